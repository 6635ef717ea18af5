package export

import "errors"

var (
	// ErrTerminated is returned by a CollectionVisitor/DocumentVisitor or
	// by CollectionScanner.Run's per-collection export callback to
	// cooperatively abort the current traversal.
	ErrTerminated = errors.New("export: traversal terminated by callback")

	// ErrArchiveAllocationFailed is a tier-1 fatal error:
	// the engine could not allocate the destination archive file.
	ErrArchiveAllocationFailed = errors.New("export: failed to allocate archive file")

	// ErrSinkClosed is returned by ArchiveSink methods called after
	// Close.
	ErrSinkClosed = errors.New("export: archive sink already closed")

	// ErrNoActiveCollectionScope is returned by NewEntry/NewContents
	// when no collection scope is open.
	ErrNoActiveCollectionScope = errors.New("export: no active collection scope")

	// ErrInvalidSafeEncoding is returned by safeDecode on malformed
	// input (an unterminated or non-hex '%' escape).
	ErrInvalidSafeEncoding = errors.New("export: invalid safe-encoded name")
)
