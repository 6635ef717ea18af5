package export

import (
	"context"
	"io"
)

// dbRootSegment is the reserved path segment every archive entry is
// written under, mirroring the database root collection's own URI
// segment: every entry, zip or filesystem tree, is prefixed with the
// database-root path segment (db).
const dbRootSegment = "db"

// reservedManifestName, reservedLostAndFound and reservedTempCollection are
// the reserved URIs forbidden from being written as ordinary resources or
// child collections.
const (
	reservedManifestName   = "__contents__.xml"
	reservedLostAndFound   = "__lost_and_found__"
	reservedTempCollection = "__temp__"
)

// ArchiveSink is the uniform, scoped write interface every archive
// backend implements: a single collection scope and a single entry scope
// may be open at a time (the traversal is flat, not recursively nested),
// and every open scope must be closed on every exit path, including
// failure. Implementations guarantee this internally;
// callers additionally defer the matching Close call immediately after
// a successful Open, the way Go idiom (rather than a translated
// try/finally) expresses a scope guard.
//
// relPath and filename are always the safe-encoded form; the manifest's
// own "name" attribute carries the original, un-encoded URI.
type ArchiveSink interface {
	// NewCollection opens a scope for one collection directory.
	NewCollection(ctx context.Context, relPath string) error
	// NewContents opens the manifest stream for the current collection.
	// The zip backend buffers the manifest document in memory and adds
	// it to the archive only when CloseContents is called, so
	// interleaved NewEntry calls never contend with it for the single
	// zip writer. The filesystem-tree backend writes straight to the
	// collection's manifest file.
	NewContents(ctx context.Context) (io.Writer, error)
	// CloseContents flushes and closes the manifest stream.
	CloseContents(ctx context.Context) error
	// NewEntry opens one resource payload stream in the current
	// collection.
	NewEntry(ctx context.Context, filename string) (io.Writer, error)
	// CloseEntry closes the current resource payload stream.
	CloseEntry(ctx context.Context) error
	// CloseCollection closes the current collection scope.
	CloseCollection(ctx context.Context) error
	// SetProperties writes the root backup.properties sidecar once.
	SetProperties(ctx context.Context, props map[string]string) error
	// Close finalizes the archive.
	Close() error
}
