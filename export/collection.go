package export

import (
	"context"
	"path"
	"strings"
	"time"
)

// dbRootURI is the database root collection's URI; the archive root
// already represents it, so CollectionExporter opens its sink scope with
// the empty relative path, which adds no directory of its own.
const dbRootURI = "/db"

// DocumentSet is the running set of successfully exported document ids,
// threaded through the collection pass and consulted by OrphanScanner
//.
type DocumentSet struct {
	ids map[DocID]struct{}
}

// NewDocumentSet returns an empty set.
func NewDocumentSet() *DocumentSet {
	return &DocumentSet{ids: make(map[DocID]struct{})}
}

// Add records id as exported.
func (s *DocumentSet) Add(id DocID) { s.ids[id] = struct{}{} }

// Contains reports whether id was already exported.
func (s *DocumentSet) Contains(id DocID) bool {
	_, ok := s.ids[id]
	return ok
}

// CollectionExporter writes one collection's manifest and its children
//.
type CollectionExporter struct {
	broker      Broker
	sink        ArchiveSink
	docExporter *DocumentExporter
	progress    *ProgressReporter
	errs        *errorIndex
}

// NewCollectionExporter wires a CollectionExporter's collaborators.
func NewCollectionExporter(broker Broker, sink ArchiveSink, docExporter *DocumentExporter, progress *ProgressReporter, errs *errorIndex) *CollectionExporter {
	if errs == nil {
		errs = newErrorIndex(nil)
	}
	return &CollectionExporter{broker: broker, sink: sink, docExporter: docExporter, progress: progress, errs: errs}
}

// Export runs the full six-step manifest contract for col: open a sink
// scope, start the manifest from the collection's attributes, add
// resources, subcollections and deletions, then write the manifest. predecessor is the matching descriptor from the prior
// archive, or nil for a full (non-incremental) export. exported
// accumulates every document id this call writes successfully.
func (c *CollectionExporter) Export(ctx context.Context, col Collection, predecessor *BackupDescriptor, exported *DocumentSet) {
	if c.errs.IsChildCollectionDamaged(col.ID, col.URI) {
		c.progress.Error("child collection damaged: "+col.URI, nil)
		return
	}

	c.progress.StartCollection(col.URI)

	// The database root needs no "new" sink scope of its own since the
	// archive root already represents it; in this ArchiveSink, that
	// scope is the empty relative path, which creates no extra
	// directory/prefix beyond what's already there — so the root is
	// still opened and closed like any other collection, just with
	// relPath "".
	if err := c.sink.NewCollection(ctx, safeEncodeCollectionPath(col.URI)); err != nil {
		c.progress.Error("failed to open collection scope for "+col.URI, err)
		return
	}
	defer func() {
		if err := c.sink.CloseCollection(ctx); err != nil {
			c.progress.Error("failed to close collection scope for "+col.URI, err)
		}
	}()

	contentsW, err := c.sink.NewContents(ctx)
	if err != nil {
		c.progress.Error("failed to open manifest for "+col.URI, err)
		return
	}

	manifest := NewManifestBuilder(CollectionAttrs{
		Name:    col.URI,
		Owner:   col.Owner,
		Group:   col.Group,
		Mode:    formatMode(col.Mode),
		Created: col.Created,
	})

	docs := c.exportDocuments(ctx, col, predecessor, manifest, exported)
	c.emitSubcollections(col, manifest)
	c.emitDeletions(ctx, col, predecessor, docs, manifest)

	if err := manifest.WriteTo(contentsW); err != nil {
		c.progress.Error("failed to write manifest for "+col.URI, err)
	}
	if err := c.sink.CloseContents(ctx); err != nil {
		c.progress.Error("failed to close manifest for "+col.URI, err)
	}
}

// exportDocuments is step 3: iterate the collection's documents in
// no-lock iteration order, skipping reserved names and
// RESOURCE_ACCESS_FAILED entries, and invoking DocumentExporter for the
// rest.
func (c *CollectionExporter) exportDocuments(ctx context.Context, col Collection, predecessor *BackupDescriptor, manifest *ManifestBuilder, exported *DocumentSet) []Document {
	docs, err := c.broker.Documents(ctx, col.ID)
	if err != nil {
		c.progress.Error("failed to list documents for "+col.URI, err)
		return nil
	}

	predecessorDate := predecessorDateOf(ctx, predecessor)
	total := len(docs)
	for i, doc := range docs {
		if isReservedResourceName(doc.FileURI) {
			continue
		}
		if c.errs.IsResourceAccessFailed(doc.ID) {
			c.progress.Error("resource access failed for "+doc.FileURI, nil)
			continue
		}
		c.progress.StartDocument(doc.FileURI, i, total)
		if c.docExporter.Export(ctx, doc, predecessorDate, c.sink, manifest, c.progress) {
			exported.Add(doc.ID)
		}
	}
	return docs
}

// emitSubcollections is step 4: iterate child URIs in order, skipping
// the reserved temp collection and CHILD_COLLECTION-damaged entries.
func (c *CollectionExporter) emitSubcollections(col Collection, manifest *ManifestBuilder) {
	for _, childURI := range col.ChildURIs {
		name := lastSegment(childURI)
		if name == reservedTempCollection {
			continue
		}
		if c.errs.IsChildCollectionDamaged(0, childURI) {
			c.progress.Error("child collection damaged: "+childURI, nil)
			continue
		}
		manifest.AddSubcollection(name, safeEncode(name))
	}
}

// emitDeletions is step 5: diff the predecessor's manifest against the
// current collection's live resources and subcollections.
func (c *CollectionExporter) emitDeletions(ctx context.Context, col Collection, predecessor *BackupDescriptor, docs []Document, manifest *ManifestBuilder) {
	if predecessor == nil {
		return
	}
	prior, ok, err := predecessor.BackupDescriptorFor(ctx, col.URI)
	if err != nil {
		c.progress.Error("failed to parse predecessor manifest for "+col.URI, err)
		return
	}
	if !ok {
		return
	}

	liveResources := make(map[string]bool, len(docs))
	for _, d := range docs {
		liveResources[d.FileURI] = true
	}
	liveChildren := make(map[string]bool, len(col.ChildURIs))
	for _, childURI := range col.ChildURIs {
		liveChildren[lastSegment(childURI)] = true
	}

	for _, name := range prior.ResourceNames() {
		if !liveResources[name] {
			manifest.AddDeleted(name, "resource")
		}
	}
	for _, name := range prior.SubcollectionNames() {
		if !liveChildren[name] {
			manifest.AddDeleted(name, "collection")
		}
	}
}

// isReservedResourceName reports whether uri is one of the reserved
// document names forbidden from being written as an ordinary resource.
func isReservedResourceName(uri string) bool {
	name := lastSegment(uri)
	return name == reservedManifestName || name == reservedLostAndFound
}

func lastSegment(uri string) string {
	return path.Base(strings.TrimRight(uri, "/"))
}

// safeEncodeCollectionPath maps a database-rooted collection URI like
// "/db/my coll/a" to the safe-encoded relative path ArchiveSink expects
// ("my%20coll/a" — the /db prefix is implicit, added by the sink itself).
func safeEncodeCollectionPath(uri string) string {
	trimmed := strings.TrimPrefix(uri, dbRootURI)
	trimmed = strings.Trim(trimmed, "/")
	if trimmed == "" {
		return ""
	}
	segs := strings.Split(trimmed, "/")
	for i, s := range segs {
		segs[i] = safeEncode(s)
	}
	return path.Join(segs...)
}

// predecessorDateOf resolves the precise predecessor archive date the
// incremental skip rule compares against: the full-
// precision "date" recorded in backup.properties, falling back to the
// filename's minute-resolution timestamp if properties can't be read.
func predecessorDateOf(ctx context.Context, predecessor *BackupDescriptor) *time.Time {
	if predecessor == nil {
		return nil
	}
	if props, err := predecessor.Properties(ctx); err == nil {
		if t, perr := time.Parse(time.RFC3339, props["date"]); perr == nil {
			return &t
		}
	}
	d := predecessor.Date()
	return &d
}
