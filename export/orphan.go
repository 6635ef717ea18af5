package export

import (
	"context"
	"fmt"
	"io"
	"time"
)

// OrphanScanner rescues documents whose parent collection was skipped or
// destroyed, after the collection pass completes.
type OrphanScanner struct {
	broker      Broker
	codec       CollectionCodec
	sink        ArchiveSink
	docExporter *DocumentExporter
	progress    *ProgressReporter
}

// NewOrphanScanner wires an OrphanScanner's collaborators.
func NewOrphanScanner(broker Broker, codec CollectionCodec, sink ArchiveSink, docExporter *DocumentExporter, progress *ProgressReporter) *OrphanScanner {
	return &OrphanScanner{broker: broker, codec: codec, sink: sink, docExporter: docExporter, progress: progress}
}

// Run scans the document index failsafe for every docId not already in
// exported, rescuing each into a synthetic /db/__lost_and_found__
// collection opened once before the scan.
func (o *OrphanScanner) Run(ctx context.Context, exported *DocumentSet) error {
	if err := o.sink.NewCollection(ctx, reservedLostAndFound); err != nil {
		return fmt.Errorf("export: failed to open lost-and-found scope: %w", err)
	}
	defer o.sink.CloseCollection(ctx)

	contentsW, err := o.sink.NewContents(ctx)
	if err != nil {
		return fmt.Errorf("export: failed to open lost-and-found manifest: %w", err)
	}

	manifest := NewManifestBuilder(CollectionAttrs{
		Name:    dbRootURI + "/" + reservedLostAndFound,
		Owner:   "DBA",
		Group:   "DBA",
		Mode:    "0771",
		Created: time.Now(),
	})

	used := make(map[string]bool)
	scanErr := o.broker.ScanDocumentsFailsafe(ctx, true, func(ctx context.Context, rawKey []byte, record io.Reader) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, collectionURI, ok := o.codec.DecodeDocumentKey(rawKey)
		if !ok || exported.Contains(id) {
			_, _ = io.Copy(io.Discard, record)
			return nil
		}

		doc, derr := o.codec.DecodeDocumentRecord(record)
		if derr != nil {
			o.progress.Error("failed to decode orphan document record", derr)
			return nil
		}
		doc.ID = id
		doc.CollectionURI = collectionURI

		o.progress.Error(fmt.Sprintf("rescuing orphan document %q from missing collection %q", doc.FileURI, collectionURI), nil)
		doc.FileURI = disambiguateName(doc.FileURI, used)
		o.docExporter.Export(ctx, doc, nil, o.sink, manifest, o.progress)
		exported.Add(id)
		return nil
	})
	if scanErr != nil {
		return fmt.Errorf("export: document scan terminated: %w", scanErr)
	}

	if err := manifest.WriteTo(contentsW); err != nil {
		return fmt.Errorf("export: failed to write lost-and-found manifest: %w", err)
	}
	return o.sink.CloseContents(ctx)
}

// disambiguateName appends ".1", ".2", ... until name (or its suffixed
// variant) is unused within the lost-and-found collection.
func disambiguateName(name string, used map[string]bool) string {
	if !used[name] {
		used[name] = true
		return name
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s.%d", name, i)
		if !used[candidate] {
			used[candidate] = true
			return candidate
		}
	}
}
