package export

import (
	"bufio"
	"context"
	"io"
	"time"
)

// DocumentExporter streams one document's payload to an archive entry
// and always emits its manifest `resource` record.
type DocumentExporter struct {
	broker Broker
}

// NewDocumentExporter builds an exporter reading payloads from broker.
func NewDocumentExporter(broker Broker) *DocumentExporter {
	return &DocumentExporter{broker: broker}
}

// Export decides the incremental skip rule, streams the payload when
// needed, and appends the document's resource record to manifest. It
// never returns an error that should abort the enclosing collection:
// failures are reported through progress and swallowed as recoverable
// per-document faults. The returned bool reports whether doc should be
// counted as exported — true when the payload was skipped by the
// incremental rule or written successfully, false when the write failed,
// so the caller can leave it out of the exported DocumentSet.
func (e *DocumentExporter) Export(ctx context.Context, doc Document, predecessorDate *time.Time, sink ArchiveSink, manifest *ManifestBuilder, progress *ProgressReporter) bool {
	needsBackup := predecessorDate == nil || predecessorDate.Before(doc.Modified)

	ok := true
	if needsBackup {
		if err := e.writeEntry(ctx, doc, sink); err != nil {
			progress.Error("failed to write document entry "+doc.FileURI, err)
			ok = false
		}
	}

	created, modified, mimeType := effectiveMetadata(doc)
	manifest.AddResource(ResourceAttrs{
		Kind:     doc.Kind,
		Name:     doc.FileURI,
		Filename: safeEncode(doc.FileURI),
		Skip:     !needsBackup,
		Owner:    doc.Owner,
		Group:    doc.Group,
		Mode:     formatMode(doc.Mode),
		Created:  created,
		Modified: modified,
		MimeType: mimeType,
		Doctype:  doc.Doctype,
	})
	return ok
}

// writeEntry opens the archive entry, streams the payload, and always
// closes the entry — including when the stream itself fails midway.
func (e *DocumentExporter) writeEntry(ctx context.Context, doc Document, sink ArchiveSink) error {
	w, err := sink.NewEntry(ctx, safeEncode(doc.FileURI))
	if err != nil {
		return err
	}
	writeErr := e.streamPayload(ctx, doc, w)
	closeErr := sink.CloseEntry(ctx)
	if writeErr != nil {
		return writeErr
	}
	return closeErr
}

func (e *DocumentExporter) streamPayload(ctx context.Context, doc Document, w io.Writer) error {
	if doc.Kind == KindBinary {
		return e.broker.ReadBinaryResource(ctx, doc, w)
	}

	bw := bufio.NewWriter(w)
	renderer := NewXMLStreamRenderer(e.broker)
	if err := renderer.Render(ctx, doc, bw); err != nil {
		return err
	}
	return bw.Flush()
}

// effectiveMetadata applies the defensive fallback for an unreadable
// metadata sub-record: created/modified default to now, mimetype
// defaults to text/xml.
func effectiveMetadata(doc Document) (created, modified time.Time, mimeType string) {
	created, modified = doc.Created, doc.Modified
	now := time.Now()
	if created.IsZero() {
		created = now
	}
	if modified.IsZero() {
		modified = now
	}
	mimeType = doc.MimeType
	if mimeType == "" {
		mimeType = "text/xml"
	}
	return
}
