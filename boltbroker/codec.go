package boltbroker

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"xdbexport/export"
)

// reservedCollectionKeys are the non-collection special keys a real
// B+tree page interleaves among ordinary collection records for its own
// bookkeeping: NEXT_COLLECTION_ID_KEY, NEXT_DOC_ID_KEY,
// FREE_COLLECTION_ID_KEY, FREE_DOC_ID_KEY. This reference broker
// recognizes them as literal keys in the collections bucket and reports
// them as non-collection keys; neither Open nor Seeder writes them.
var reservedCollectionKeys = map[string]bool{
	"NEXT_COLLECTION_ID_KEY": true,
	"NEXT_DOC_ID_KEY":        true,
	"FREE_COLLECTION_ID_KEY": true,
	"FREE_DOC_ID_KEY":        true,
}

// Codec is the export.CollectionCodec this broker's keys and records
// were written with.
type Codec struct{}

func (Codec) DecodeCollectionKey(rawKey []byte) (export.CollectionID, string, bool) {
	return decodeCollectionKey(rawKey)
}

func (Codec) DecodeCollectionRecord(r io.Reader) (export.Collection, error) {
	rec, err := decodeCollectionRecord(r)
	if err != nil {
		return export.Collection{}, err
	}
	return export.Collection{
		Owner:     rec.Owner,
		Group:     rec.Group,
		Mode:      os.FileMode(rec.Mode),
		Created:   time.Unix(0, rec.Created),
		ChildURIs: rec.ChildURIs,
	}, nil
}

func (Codec) DecodeDocumentKey(rawKey []byte) (export.DocID, string, bool) {
	return decodeDocumentKey(rawKey)
}

func (Codec) DecodeDocumentRecord(r io.Reader) (export.Document, error) {
	return decodeDocumentRecord(r)
}

// --- key encoding ---

// collection keys are an 8-byte big-endian CollectionID followed by the
// UTF-8 collection URI, decoded from the key's value portion starting at
// a fixed header offset.
func encodeCollectionKey(id export.CollectionID, uri string) []byte {
	buf := make([]byte, 8+len(uri))
	binary.BigEndian.PutUint64(buf[:8], uint64(id))
	copy(buf[8:], uri)
	return buf
}

func decodeCollectionKey(key []byte) (export.CollectionID, string, bool) {
	if reservedCollectionKeys[string(key)] {
		return 0, "", false
	}
	if len(key) < 8 {
		return 0, "", false
	}
	id := export.CollectionID(binary.BigEndian.Uint64(key[:8]))
	uri := string(key[8:])
	return id, uri, true
}

// document keys are an 8-byte big-endian DocID followed by
// "<collectionURI>\x00<fileURI>". The stored document-kind type byte
// lives in the record rather than the key here, since this reference
// broker always has the record available alongside the key when
// reconstructing orphans (see DESIGN.md).
func encodeDocumentKey(id export.DocID, collectionURI, fileURI string) []byte {
	payload := collectionURI + "\x00" + fileURI
	buf := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint64(buf[:8], uint64(id))
	copy(buf[8:], payload)
	return buf
}

func decodeDocumentKey(key []byte) (export.DocID, string, bool) {
	if len(key) < 8 {
		return 0, "", false
	}
	id := export.DocID(binary.BigEndian.Uint64(key[:8]))
	rest := string(key[8:])
	collectionURI := rest
	if idx := strings.IndexByte(rest, 0); idx >= 0 {
		collectionURI = rest[:idx]
	}
	return id, collectionURI, true
}

func docIDKey(id export.DocID) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

func newReader(v []byte) io.Reader {
	return bytes.NewReader(v)
}

// --- record encoding (JSON; this broker's wire format is internal and
// has no bearing on the archive format the export package produces) ---

type collectionRecord struct {
	Owner        string
	Group        string
	Mode         uint32
	Created      int64
	ChildURIs    []string
	DocumentKeys [][]byte
}

func encodeCollectionRecord(rec collectionRecord) ([]byte, error) {
	return json.Marshal(rec)
}

func decodeCollectionRecord(r io.Reader) (collectionRecord, error) {
	var rec collectionRecord
	if err := json.NewDecoder(r).Decode(&rec); err != nil {
		return collectionRecord{}, fmt.Errorf("boltbroker: failed to decode collection record: %w", err)
	}
	return rec, nil
}

type documentRecord struct {
	FileURI         string
	Kind            uint8
	Owner           string
	Group           string
	Mode            uint32
	Created         int64
	Modified        int64
	MimeType        string
	HasDoctype      bool
	DoctypeName     string
	DoctypePublicID string
	DoctypeSystemID string
}

func encodeDocumentRecord(doc export.Document) ([]byte, error) {
	rec := documentRecord{
		FileURI:  doc.FileURI,
		Kind:     uint8(doc.Kind),
		Owner:    doc.Owner,
		Group:    doc.Group,
		Mode:     uint32(doc.Mode),
		Created:  doc.Created.UnixNano(),
		Modified: doc.Modified.UnixNano(),
		MimeType: doc.MimeType,
	}
	if doc.Doctype != nil {
		rec.HasDoctype = true
		rec.DoctypeName = doc.Doctype.Name
		rec.DoctypePublicID = doc.Doctype.PublicID
		rec.DoctypeSystemID = doc.Doctype.SystemID
	}
	return json.Marshal(rec)
}

func decodeDocumentRecord(r io.Reader) (export.Document, error) {
	var rec documentRecord
	if err := json.NewDecoder(r).Decode(&rec); err != nil {
		return export.Document{}, fmt.Errorf("boltbroker: failed to decode document record: %w", err)
	}
	doc := export.Document{
		FileURI:  rec.FileURI,
		Kind:     export.DocumentKind(rec.Kind),
		Owner:    rec.Owner,
		Group:    rec.Group,
		Mode:     os.FileMode(rec.Mode),
		Created:  time.Unix(0, rec.Created),
		Modified: time.Unix(0, rec.Modified),
		MimeType: rec.MimeType,
	}
	if rec.HasDoctype {
		doc.Doctype = &export.Doctype{Name: rec.DoctypeName, PublicID: rec.DoctypePublicID, SystemID: rec.DoctypeSystemID}
	}
	return doc, nil
}

// --- node-event encoding, for XMLStreamReader's replay ---

type nodeEvent struct {
	Type        export.EventType
	Name        string
	Prefix      string
	URI         string
	Attrs       []export.Attr
	NewPrefixes []export.PrefixDecl
	Text        string
}

func encodeNodeEvents(events []export.StreamEvent) ([]byte, error) {
	out := make([]nodeEvent, len(events))
	for i, e := range events {
		out[i] = nodeEvent{Type: e.Type, Name: e.Name, Prefix: e.Prefix, URI: e.URI, Attrs: e.Attrs, NewPrefixes: e.NewPrefixes, Text: e.Text}
	}
	return json.Marshal(out)
}

func decodeNodeEvents(v []byte) ([]export.StreamEvent, error) {
	var in []nodeEvent
	if err := json.Unmarshal(v, &in); err != nil {
		return nil, fmt.Errorf("boltbroker: failed to decode node stream: %w", err)
	}
	out := make([]export.StreamEvent, len(in))
	for i, e := range in {
		out[i] = export.StreamEvent{Type: e.Type, Name: e.Name, Prefix: e.Prefix, URI: e.URI, Attrs: e.Attrs, NewPrefixes: e.NewPrefixes, Text: e.Text}
	}
	return out, nil
}

// replayReader implements export.NodeStreamReader over a pre-decoded
// event slice.
type replayReader struct {
	events []export.StreamEvent
	pos    int
}

func (r *replayReader) Next(ctx context.Context) (export.StreamEvent, error) {
	if r.pos >= len(r.events) {
		return export.StreamEvent{}, io.EOF
	}
	ev := r.events[r.pos]
	r.pos++
	return ev, nil
}

func (r *replayReader) Close() error { return nil }
