package export

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
)

// Options is the inputs surface of the export operation.
type Options struct {
	// TargetDir is where archives are located and the new one is
	// written. A ".zip" backend is selected by Zip, not by any suffix
	// on this path.
	TargetDir string
	// Incremental requests an incremental archive against the most
	// recent prior backup found in TargetDir. Ignored (treated as
	// false) when no prior backup exists.
	Incremental bool
	// MaxIncremental caps the incremental chain length before a fresh
	// full backup is forced; -1 disables the cap.
	MaxIncremental int
	// Zip selects the zip backend over the filesystem-tree backend.
	Zip bool
	// Errors is the consistency checker's error list (may be nil).
	Errors []ErrorReport
	// Progress optionally relays status to a management agent; may be nil.
	Progress ProgressSink
	// Logger is the ambient zap logger; defaults to a no-op logger.
	Logger *zap.Logger
}

// Export runs one full export call end to end: it allocates the archive,
// drives the collection pass followed by the orphan-rescue pass, and
// returns the archive's path. A non-nil error here is always a tier-1
// fatal failure; recoverable per-collection/per-document
// faults are only ever reported through Options.Progress and the
// ambient logger.
func Export(ctx context.Context, broker Broker, codec CollectionCodec, opts Options) (string, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	progress := NewProgressReporter(log, opts.Progress)

	bd, err := NewBackupDirectory(opts.TargetDir, opts.Zip, log)
	if err != nil {
		progress.Fatal("failed to open target directory", err)
		return "", err
	}

	archivePath, props, err := bd.CreateBackup(ctx, opts.Incremental, opts.MaxIncremental)
	if err != nil {
		progress.Fatal("failed to allocate archive", err)
		return "", err
	}

	var sink ArchiveSink
	if opts.Zip {
		sink, err = NewZipArchiveSink(archivePath)
	} else {
		sink, err = NewFileTreeArchiveSink(archivePath)
	}
	if err != nil {
		progress.Fatal("failed to allocate archive", err)
		return "", err
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			progress.Fatal("failed to finalize archive", cerr)
		}
	}()

	if err := sink.SetProperties(ctx, props.AsMap()); err != nil {
		progress.Fatal("failed to write archive properties", err)
		return "", err
	}

	var predecessor *BackupDescriptor
	if props.Previous != "" {
		predecessor = NewBackupDescriptor(filepath.Join(opts.TargetDir, props.Previous))
	}

	errs := newErrorIndex(opts.Errors)
	docExporter := NewDocumentExporter(broker)
	colExporter := NewCollectionExporter(broker, sink, docExporter, progress, errs)
	exported := NewDocumentSet()

	scanner := NewCollectionScanner(broker, codec, log)
	scanErr := scanner.Run(ctx, func(ctx context.Context, col Collection, seen, total int) error {
		colExporter.Export(ctx, col, predecessor, exported)
		return nil
	}, func(id CollectionID, uri string, cause error) {
		progress.Error(fmt.Sprintf("failed to export collection %s", uri), cause)
	})
	if scanErr != nil {
		progress.Fatal("collection scan terminated", scanErr)
		return "", scanErr
	}

	orphanScanner := NewOrphanScanner(broker, codec, sink, docExporter, progress)
	if err := orphanScanner.Run(ctx, exported); err != nil {
		progress.Fatal("orphan scan failed", err)
		return "", err
	}

	return archivePath, nil
}
