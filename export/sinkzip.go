package export

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
)

// zipSink is the zip-backed ArchiveSink, one of two interchangeable
// archive backends. It is built on the standard library's archive/zip:
// no third-party zip-archive library appears anywhere in the retrieved
// corpus to ground a replacement (see DESIGN.md) — archive/zip is both
// the idiomatic and the only grounded choice here.
type zipSink struct {
	file   *os.File
	zw     *zip.Writer
	closed bool

	collectionPath string
	collectionOpen bool

	contentsBuf  *bytes.Buffer
	contentsOpen bool

	entryWriter io.Writer
	entryName   string
	entryOpen   bool

	propertiesWritten bool
}

// NewZipArchiveSink creates a zip-backed ArchiveSink writing to path.
func NewZipArchiveSink(path string) (ArchiveSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveAllocationFailed, err)
	}
	return &zipSink{file: f, zw: zip.NewWriter(f)}, nil
}

func (s *zipSink) NewCollection(ctx context.Context, relPath string) error {
	if s.closed {
		return ErrSinkClosed
	}
	if s.collectionOpen {
		return fmt.Errorf("export: collection scope already open for %q", s.collectionPath)
	}
	s.collectionPath = relPath
	s.collectionOpen = true
	return nil
}

func (s *zipSink) entryPath(name string) string {
	if s.collectionPath == "" {
		return path.Join(dbRootSegment, name)
	}
	return path.Join(dbRootSegment, s.collectionPath, name)
}

func (s *zipSink) NewContents(ctx context.Context) (io.Writer, error) {
	if s.closed {
		return nil, ErrSinkClosed
	}
	if !s.collectionOpen {
		return nil, ErrNoActiveCollectionScope
	}
	s.contentsBuf = &bytes.Buffer{}
	s.contentsOpen = true
	return s.contentsBuf, nil
}

func (s *zipSink) CloseContents(ctx context.Context) error {
	if !s.contentsOpen {
		return nil
	}
	s.contentsOpen = false
	w, err := s.zw.Create(s.entryPath(reservedManifestName))
	if err != nil {
		return fmt.Errorf("export: failed to create manifest entry: %w", err)
	}
	_, err = w.Write(s.contentsBuf.Bytes())
	s.contentsBuf = nil
	return err
}

func (s *zipSink) NewEntry(ctx context.Context, filename string) (io.Writer, error) {
	if s.closed {
		return nil, ErrSinkClosed
	}
	if !s.collectionOpen {
		return nil, ErrNoActiveCollectionScope
	}
	w, err := s.zw.Create(s.entryPath(filename))
	if err != nil {
		return nil, fmt.Errorf("export: failed to create entry %q: %w", filename, err)
	}
	s.entryWriter = w
	s.entryName = filename
	s.entryOpen = true
	return w, nil
}

func (s *zipSink) CloseEntry(ctx context.Context) error {
	// archive/zip has no explicit per-entry close: the writer returned
	// by Create is finalized by the next Create/Close call. This just
	// clears our own open-scope bookkeeping so a forgotten close still
	// leaves the sink in a valid state for the next entry.
	s.entryOpen = false
	s.entryWriter = nil
	s.entryName = ""
	return nil
}

func (s *zipSink) CloseCollection(ctx context.Context) error {
	if s.contentsOpen {
		if err := s.CloseContents(ctx); err != nil {
			return err
		}
	}
	if s.entryOpen {
		_ = s.CloseEntry(ctx)
	}
	s.collectionOpen = false
	s.collectionPath = ""
	return nil
}

func (s *zipSink) SetProperties(ctx context.Context, props map[string]string) error {
	if s.closed {
		return ErrSinkClosed
	}
	if s.propertiesWritten {
		return nil
	}
	w, err := s.zw.Create("backup.properties")
	if err != nil {
		return fmt.Errorf("export: failed to create backup.properties: %w", err)
	}
	if _, err := w.Write(encodeProperties(props)); err != nil {
		return err
	}
	s.propertiesWritten = true
	return nil
}

func (s *zipSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.zw.Close()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	return err
}

func encodeProperties(props map[string]string) []byte {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s=%s\n", k, props[k])
	}
	return buf.Bytes()
}
