// Package boltbroker is a reference implementation of export.Broker
// backed by a real embedded B+tree (go.etcd.io/bbolt), standing in for
// the production storage broker's raw B-tree page access. It exists for
// tests and the example CLI, not for production use.
package boltbroker

import (
	"context"
	"fmt"
	"io"

	bolt "go.etcd.io/bbolt"
	"xdbexport/export"
)

var (
	collectionsBucket = []byte("collections")
	documentsBucket    = []byte("documents")
	blobsBucket        = []byte("blobs")
	nodesBucket        = []byte("nodes")
)

// Broker is a bbolt-backed export.Broker.
type Broker struct {
	db *bolt.DB
}

// Open opens (creating if absent) a bbolt database at path and ensures
// its buckets exist.
func Open(path string) (*Broker, error) {
	db, err := bolt.Open(path, 0644, nil)
	if err != nil {
		return nil, fmt.Errorf("boltbroker: failed to open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{collectionsBucket, documentsBucket, blobsBucket, nodesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltbroker: failed to initialize buckets: %w", err)
	}
	return &Broker{db: db}, nil
}

// Close releases the underlying database file.
func (b *Broker) Close() error { return b.db.Close() }

// ScanCollectionsFailsafe walks the collections bucket key by key.
func (b *Broker) ScanCollectionsFailsafe(ctx context.Context, visit export.CollectionVisitor) error {
	return b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(collectionsBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			// bbolt's cursor-returned slices are only valid for the
			// transaction's lifetime; copy before handing them to a
			// visitor that may outlive a single iteration step.
			keyCopy := append([]byte(nil), k...)
			if err := visit(ctx, keyCopy, newReader(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ScanDocumentsFailsafe walks the documents bucket key by key.
// directAccess has no effect here since bbolt has no broker-side cache
// layer to bypass; the parameter exists purely to satisfy
// export.Broker's contract.
func (b *Broker) ScanDocumentsFailsafe(ctx context.Context, directAccess bool, visit export.DocumentVisitor) error {
	return b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(documentsBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keyCopy := append([]byte(nil), k...)
			if err := visit(ctx, keyCopy, newReader(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Documents returns the documents belonging to collection id, in the
// order they were recorded at seed time.
func (b *Broker) Documents(ctx context.Context, id export.CollectionID) ([]export.Document, error) {
	var docs []export.Document
	err := b.db.View(func(tx *bolt.Tx) error {
		rec, err := getCollectionRecord(tx, id)
		if err != nil {
			return err
		}
		dbucket := tx.Bucket(documentsBucket)
		for _, key := range rec.DocumentKeys {
			v := dbucket.Get(key)
			if v == nil {
				continue
			}
			doc, err := decodeDocumentRecord(newReader(v))
			if err != nil {
				return err
			}
			docID, collURI, ok := decodeDocumentKey(key)
			if ok {
				doc.ID = docID
				doc.CollectionURI = collURI
			}
			docs = append(docs, doc)
		}
		return nil
	})
	return docs, err
}

// ReadBinaryResource copies a binary document's blob verbatim to sink.
func (b *Broker) ReadBinaryResource(ctx context.Context, doc export.Document, sink io.Writer) error {
	return b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(blobsBucket).Get(docIDKey(doc.ID))
		if v == nil {
			return fmt.Errorf("boltbroker: no blob stored for document %d", doc.ID)
		}
		_, err := sink.Write(v)
		return err
	})
}

// XMLStreamReader returns a replay reader over doc's stored node-event
// list. recursive has no effect: the reference broker always stores the
// full descendant stream at seed time.
func (b *Broker) XMLStreamReader(ctx context.Context, doc export.Document, recursive bool) (export.NodeStreamReader, error) {
	var events []export.StreamEvent
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(nodesBucket).Get(docIDKey(doc.ID))
		if v == nil {
			return fmt.Errorf("boltbroker: no node stream stored for document %d", doc.ID)
		}
		decoded, err := decodeNodeEvents(v)
		if err != nil {
			return err
		}
		events = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &replayReader{events: events}, nil
}

func getCollectionRecord(tx *bolt.Tx, id export.CollectionID) (collectionRecord, error) {
	c := tx.Bucket(collectionsBucket).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		gotID, _, ok := decodeCollectionKey(k)
		if !ok || gotID != id {
			continue
		}
		return decodeCollectionRecord(newReader(v))
	}
	return collectionRecord{}, fmt.Errorf("boltbroker: no collection with id %d", id)
}
