package boltbroker

import (
	"fmt"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"
	"xdbexport/export"
)

// Seeder populates a Broker's bbolt database for tests. It is not part
// of export.Broker: production brokers are populated by the database
// itself.
type Seeder struct {
	b *Broker
}

// NewSeeder wraps b for population.
func NewSeeder(b *Broker) *Seeder { return &Seeder{b: b} }

// AddCollection writes a collection record and returns nothing further;
// call AddXMLDocument/AddBinaryDocument afterward to populate it.
func (s *Seeder) AddCollection(id export.CollectionID, uri string, owner, group string, mode uint32, created time.Time, childURIs []string) error {
	return s.b.db.Update(func(tx *bolt.Tx) error {
		data, err := encodeCollectionRecord(collectionRecord{
			Owner:     owner,
			Group:     group,
			Mode:      mode,
			Created:   created.UnixNano(),
			ChildURIs: childURIs,
		})
		if err != nil {
			return err
		}
		return tx.Bucket(collectionsBucket).Put(encodeCollectionKey(id, uri), data)
	})
}

// AddXMLDocument writes an XML document's record and its node-event
// stream, and registers it under its owning collection.
func (s *Seeder) AddXMLDocument(collectionID export.CollectionID, collectionURI string, docID export.DocID, fileURI string, owner, group string, mode uint32, created, modified time.Time, doctype *export.Doctype, events []export.StreamEvent) error {
	doc := export.Document{
		FileURI: fileURI, Kind: export.KindXML, Owner: owner, Group: group, Mode: modeFromUint(mode),
		Created: created, Modified: modified, MimeType: "text/xml", Doctype: doctype,
	}
	return s.addDocument(collectionID, collectionURI, docID, doc, nil, events)
}

// AddBinaryDocument writes a binary document's record and blob, and
// registers it under its owning collection.
func (s *Seeder) AddBinaryDocument(collectionID export.CollectionID, collectionURI string, docID export.DocID, fileURI string, owner, group string, mode uint32, created, modified time.Time, mimeType string, blob []byte) error {
	doc := export.Document{
		FileURI: fileURI, Kind: export.KindBinary, Owner: owner, Group: group, Mode: modeFromUint(mode),
		Created: created, Modified: modified, MimeType: mimeType,
	}
	return s.addDocument(collectionID, collectionURI, docID, doc, blob, nil)
}

func (s *Seeder) addDocument(collectionID export.CollectionID, collectionURI string, docID export.DocID, doc export.Document, blob []byte, events []export.StreamEvent) error {
	key := encodeDocumentKey(docID, collectionURI, doc.FileURI)
	return s.b.db.Update(func(tx *bolt.Tx) error {
		data, err := encodeDocumentRecord(doc)
		if err != nil {
			return err
		}
		if err := tx.Bucket(documentsBucket).Put(key, data); err != nil {
			return err
		}
		if blob != nil {
			if err := tx.Bucket(blobsBucket).Put(docIDKey(docID), blob); err != nil {
				return err
			}
		}
		if events != nil {
			encoded, err := encodeNodeEvents(events)
			if err != nil {
				return err
			}
			if err := tx.Bucket(nodesBucket).Put(docIDKey(docID), encoded); err != nil {
				return err
			}
		}

		cbucket := tx.Bucket(collectionsBucket)
		ck, found := findCollectionKey(cbucket, collectionID)
		if !found {
			return fmt.Errorf("boltbroker: no collection with id %d to attach document to", collectionID)
		}
		rec, err := decodeCollectionRecord(newReader(cbucket.Get(ck)))
		if err != nil {
			return err
		}
		rec.DocumentKeys = append(rec.DocumentKeys, key)
		data, err = encodeCollectionRecord(rec)
		if err != nil {
			return err
		}
		return cbucket.Put(ck, data)
	})
}

func findCollectionKey(bucket *bolt.Bucket, id export.CollectionID) ([]byte, bool) {
	c := bucket.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		gotID, _, ok := decodeCollectionKey(k)
		if ok && gotID == id {
			return append([]byte(nil), k...), true
		}
	}
	return nil, false
}

func modeFromUint(m uint32) os.FileMode { return os.FileMode(m) }
