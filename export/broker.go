// Package export implements the failsafe system export engine: it walks a
// database's on-disk collection and document indices directly, reconciles a
// prior backup's manifest for incremental deltas, rescues orphan documents,
// and streams XML documents through a SAX-style sink into a backup archive.
package export

import (
	"context"
	"io"
	"os"
	"time"
)

// CollectionID and DocID identify collections and documents in the storage
// broker's indices. The production broker assigns these; this package never
// allocates one.
type CollectionID uint64
type DocID uint64

// DocumentKind discriminates XML from binary documents. The source database
// uses subclass dispatch for this; here it is a tagged variant over a single
// on-disk type byte so DocumentExporter can branch once per document.
type DocumentKind uint8

const (
	KindXML DocumentKind = iota
	KindBinary
)

func (k DocumentKind) String() string {
	if k == KindBinary {
		return "BinaryResource"
	}
	return "XMLResource"
}

// Doctype carries a stored DOCTYPE declaration's name/public-id/system-id
// triple. Present only on XML documents that declared one.
type Doctype struct {
	Name     string
	PublicID string
	SystemID string
}

// Collection is a read-only view of one collection as stored in the
// collection index: a hierarchical URI, ownership/permission metadata, and
// ordered views of its children and documents.
type Collection struct {
	ID        CollectionID
	URI       string
	Owner     string
	Group     string
	Mode      os.FileMode
	Created   time.Time
	ChildURIs []string
}

// Document is a read-only view of one document as stored in the document
// index: identity, ownership/permission metadata, and payload location.
// XML documents carry their node tree behind NodeStreamReader; binary
// documents carry an opaque blob read through Broker.ReadBinaryResource.
type Document struct {
	ID            DocID
	CollectionURI string
	FileURI       string
	Kind          DocumentKind
	Owner         string
	Group         string
	Mode          os.FileMode
	Created       time.Time
	Modified      time.Time
	MimeType      string
	Doctype       *Doctype
}

// ErrorKind enumerates the consistency-checker error kinds the exporter
// reacts to. All other kinds are opaque to the exporter.
type ErrorKind string

const (
	ResourceAccessFailed ErrorKind = "RESOURCE_ACCESS_FAILED"
	ChildCollectionError ErrorKind = "CHILD_COLLECTION"
)

// ErrorReport is one record from the consistency checker's error list.
// DocID is meaningful only for ResourceAccessFailed; CollectionID/URI only
// for ChildCollectionError.
type ErrorReport struct {
	Kind         ErrorKind
	DocID        DocID
	CollectionID CollectionID
	URI          string
}

// CollectionVisitor is invoked once per collection-index key during a
// failsafe collection scan. record is the serialized collection payload for
// that key; rawKey is the raw index key bytes, handed over so the visitor
// can apply its own reserved-key filtering and header-offset decoding (the
// broker does not interpret key contents).
type CollectionVisitor func(ctx context.Context, rawKey []byte, record io.Reader) error

// DocumentVisitor is invoked once per document-index key during a failsafe
// document scan, analogous to CollectionVisitor.
type DocumentVisitor func(ctx context.Context, rawKey []byte, record io.Reader) error

// NodeStreamReader is a forward-only pull reader over a stored XML node
// subtree, feeding XMLStreamRenderer. Type is one of the EventType
// constants; for START_ELEMENT, Attrs and NewPrefixes are populated; for
// CHARACTERS/CDATA/COMMENT/PROCESSING_INSTRUCTION, Text (and Name, the
// target, for PI) is populated.
type NodeStreamReader interface {
	// Next advances to the next node event, returning io.EOF once the
	// document's last top-level child is exhausted.
	Next(ctx context.Context) (StreamEvent, error)
	Close() error
}

// StreamEvent is one SAX-shaped event pulled from a NodeStreamReader.
type StreamEvent struct {
	Type       EventType
	Name       string        // element/PI target name
	Prefix     string        // namespace prefix for this element, if any
	URI        string        // namespace URI bound to Prefix
	Attrs      []Attr        // START_ELEMENT attributes, in document order
	NewPrefixes []PrefixDecl // prefixes newly declared at this element
	Text       string        // CHARACTERS/CDATA/COMMENT/PI data
}

// EventType enumerates the node-stream pull events. START_DOCUMENT and
// END_DOCUMENT are intentionally absent: the renderer's caller frames the
// document itself, so these are suppressed at the source.
type EventType int

const (
	EventStartElement EventType = iota
	EventEndElement
	EventCharacters
	EventCDATA
	EventComment
	EventProcessingInstruction
)

// Attr is one XML attribute, qualified by an optional namespace prefix.
type Attr struct {
	Prefix string
	Name   string
	Value  string
}

// PrefixDecl is one namespace-prefix declaration in effect starting at a
// given element.
type PrefixDecl struct {
	Prefix string
	URI    string
}

// CollectionCodec decodes the raw key/record bytes CollectionVisitor and
// DocumentVisitor receive. Key and record wire formats are
// storage-broker-specific, so the codec travels alongside a concrete
// Broker implementation rather than being hardcoded into the scanner.
type CollectionCodec interface {
	// DecodeCollectionKey reports whether rawKey names an ordinary
	// collection entry, as opposed to one of the reserved special keys
	// (NEXT_COLLECTION_ID_KEY and friends) the scanner must skip
	// silently. ok is false for both: a reserved key, and a key this
	// codec does not recognize at all.
	DecodeCollectionKey(rawKey []byte) (id CollectionID, uri string, ok bool)
	// DecodeCollectionRecord parses the serialized collection payload
	// read from one collection-index value stream.
	DecodeCollectionRecord(r io.Reader) (Collection, error)
	// DecodeDocumentKey is DecodeCollectionKey's document-index analogue.
	DecodeDocumentKey(rawKey []byte) (id DocID, collectionURI string, ok bool)
	// DecodeDocumentRecord parses the serialized document payload read
	// from one document-index value stream; used by OrphanScanner to
	// reconstruct documents whose parent collection was skipped.
	DecodeDocumentRecord(r io.Reader) (Document, error)
}

// Broker is the storage broker's contract as consumed by the export
// engine. The production broker — raw B-tree and blob-stream access — is
// an external collaborator out of scope for this module; only this
// interface is implemented against it. The boltbroker subpackage provides
// a reference implementation for tests and the example CLI, backed by a
// real embedded B+tree (go.etcd.io/bbolt) rather than an in-memory fake.
type Broker interface {
	// ScanCollectionsFailsafe walks the collection index key by key,
	// invoking visit once per key. It tolerates per-key corruption: a
	// fault decoding one key's record must not prevent the scan from
	// reaching the next key. It returns early only on ctx cancellation
	// or on a visitor error signaling termination (see ErrTerminated).
	ScanCollectionsFailsafe(ctx context.Context, visit CollectionVisitor) error

	// ScanDocumentsFailsafe walks the document index key by key, for
	// OrphanScanner's rescue pass. directAccess bypasses any broker-side
	// cache.
	ScanDocumentsFailsafe(ctx context.Context, directAccess bool, visit DocumentVisitor) error

	// Documents returns the no-lock iteration order of documents
	// belonging to one collection.
	Documents(ctx context.Context, id CollectionID) ([]Document, error)

	// ReadBinaryResource copies a binary document's blob verbatim to
	// sink.
	ReadBinaryResource(ctx context.Context, doc Document, sink io.Writer) error

	// XMLStreamReader opens a forward-only pull reader over every
	// top-level child node of doc's document node, in document order.
	// recursive selects whether descendant subtrees are included.
	XMLStreamReader(ctx context.Context, doc Document, recursive bool) (NodeStreamReader, error)
}
