package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// filetreeSink is the filesystem-backed ArchiveSink. It mirrors the same
// /db/<collection>/ layout into real directories rather than zip entries,
// materializing each entry onto disk as it's written.
type filetreeSink struct {
	rootDir string
	closed  bool

	collectionDir  string
	collectionOpen bool

	contentsFile *os.File
	entryFile    *os.File

	propertiesWritten bool
}

// NewFileTreeArchiveSink creates a directory-backed ArchiveSink rooted at
// dir (created if absent).
func NewFileTreeArchiveSink(dir string) (ArchiveSink, error) {
	if err := os.MkdirAll(filepath.Join(dir, dbRootSegment), 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveAllocationFailed, err)
	}
	return &filetreeSink{rootDir: dir}, nil
}

func (s *filetreeSink) collectionAbsDir() string {
	if s.collectionDir == "" {
		return filepath.Join(s.rootDir, dbRootSegment)
	}
	return filepath.Join(s.rootDir, dbRootSegment, s.collectionDir)
}

func (s *filetreeSink) NewCollection(ctx context.Context, relPath string) error {
	if s.closed {
		return ErrSinkClosed
	}
	if s.collectionOpen {
		return fmt.Errorf("export: collection scope already open for %q", s.collectionDir)
	}
	s.collectionDir = relPath
	if err := os.MkdirAll(s.collectionAbsDir(), 0755); err != nil {
		return fmt.Errorf("export: failed to create collection directory: %w", err)
	}
	s.collectionOpen = true
	return nil
}

func (s *filetreeSink) NewContents(ctx context.Context) (io.Writer, error) {
	if s.closed {
		return nil, ErrSinkClosed
	}
	if !s.collectionOpen {
		return nil, ErrNoActiveCollectionScope
	}
	f, err := os.Create(filepath.Join(s.collectionAbsDir(), reservedManifestName))
	if err != nil {
		return nil, fmt.Errorf("export: failed to create manifest file: %w", err)
	}
	s.contentsFile = f
	return f, nil
}

func (s *filetreeSink) CloseContents(ctx context.Context) error {
	if s.contentsFile == nil {
		return nil
	}
	err := s.contentsFile.Close()
	s.contentsFile = nil
	return err
}

func (s *filetreeSink) NewEntry(ctx context.Context, filename string) (io.Writer, error) {
	if s.closed {
		return nil, ErrSinkClosed
	}
	if !s.collectionOpen {
		return nil, ErrNoActiveCollectionScope
	}
	f, err := os.Create(filepath.Join(s.collectionAbsDir(), filename))
	if err != nil {
		return nil, fmt.Errorf("export: failed to create entry %q: %w", filename, err)
	}
	s.entryFile = f
	return f, nil
}

func (s *filetreeSink) CloseEntry(ctx context.Context) error {
	if s.entryFile == nil {
		return nil
	}
	err := s.entryFile.Close()
	s.entryFile = nil
	return err
}

func (s *filetreeSink) CloseCollection(ctx context.Context) error {
	if s.contentsFile != nil {
		_ = s.CloseContents(ctx)
	}
	if s.entryFile != nil {
		_ = s.CloseEntry(ctx)
	}
	s.collectionOpen = false
	s.collectionDir = ""
	return nil
}

func (s *filetreeSink) SetProperties(ctx context.Context, props map[string]string) error {
	if s.closed {
		return ErrSinkClosed
	}
	if s.propertiesWritten {
		return nil
	}
	if err := os.WriteFile(filepath.Join(s.rootDir, "backup.properties"), encodeProperties(props), 0644); err != nil {
		return fmt.Errorf("export: failed to write backup.properties: %w", err)
	}
	s.propertiesWritten = true
	return nil
}

func (s *filetreeSink) Close() error {
	s.closed = true
	return nil
}
