package export

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"
)

// manifestNamespace is the reserved namespace collection manifests are
// rooted in, bound to the empty prefix on the root element so
// every descendant inherits it without redeclaration.
const manifestNamespace = "http://exist-db.org/backup/1.0"

// manifestVersion is the collection manifest schema version.
const manifestVersion = 1

// manifestResource is one <resource> child of a collection manifest.
type manifestResource struct {
	XMLName     xml.Name `xml:"resource"`
	Type        string   `xml:"type,attr"`
	Name        string   `xml:"name,attr"`
	Filename    string   `xml:"filename,attr"`
	Skip        string   `xml:"skip,attr"`
	Owner       string   `xml:"owner,attr"`
	Group       string   `xml:"group,attr"`
	Mode        string   `xml:"mode,attr"`
	Created     string   `xml:"created,attr"`
	Modified    string   `xml:"modified,attr"`
	MimeType    string   `xml:"mimetype,attr"`
	NamedDoctype string  `xml:"namedoctype,attr,omitempty"`
	PublicID    string   `xml:"publicid,attr,omitempty"`
	SystemID    string   `xml:"systemid,attr,omitempty"`
}

// manifestSubcollection is one <subcollection> child.
type manifestSubcollection struct {
	XMLName  xml.Name `xml:"subcollection"`
	Name     string   `xml:"name,attr"`
	Filename string   `xml:"filename,attr"`
}

// manifestDeleted is one <deleted> child, present only in incremental
// manifests.
type manifestDeleted struct {
	XMLName xml.Name `xml:"deleted"`
	Name    string   `xml:"name,attr"`
	Type    string   `xml:"type,attr"` // "collection" or "resource"
}

// manifestDocument is the root <collection> element. Field order mirrors
// the write order CollectionExporter follows: resources, then
// subcollections, then deletions.
type manifestDocument struct {
	XMLName        xml.Name                `xml:"collection"`
	Name           string                  `xml:"name,attr"`
	Version        int                     `xml:"version,attr"`
	Owner          string                  `xml:"owner,attr"`
	Group          string                  `xml:"group,attr"`
	Mode           string                  `xml:"mode,attr"`
	Created        string                  `xml:"created,attr"`
	Resources      []manifestResource      `xml:"resource"`
	Subcollections []manifestSubcollection `xml:"subcollection"`
	Deleted        []manifestDeleted       `xml:"deleted"`
}

// CollectionAttrs carries the attributes a collection manifest's root
// element records.
type CollectionAttrs struct {
	Name    string
	Owner   string
	Group   string
	Mode    string // already octal-formatted, e.g. "0755"
	Created time.Time
}

// ManifestBuilder accumulates one collection manifest's children in
// write order and serializes it on WriteTo.
type ManifestBuilder struct {
	doc manifestDocument
}

// NewManifestBuilder starts a manifest for attrs, binding the reserved
// namespace to the root element.
func NewManifestBuilder(attrs CollectionAttrs) *ManifestBuilder {
	return &ManifestBuilder{doc: manifestDocument{
		XMLName: xml.Name{Space: manifestNamespace, Local: "collection"},
		Name:    attrs.Name,
		Version: manifestVersion,
		Owner:   attrs.Owner,
		Group:   attrs.Group,
		Mode:    attrs.Mode,
		Created: attrs.Created.UTC().Format(time.RFC3339),
	}}
}

// AddResource appends a <resource> entry.
func (b *ManifestBuilder) AddResource(r ResourceAttrs) {
	mr := manifestResource{
		Type:     r.Kind.String(),
		Name:     r.Name,
		Filename: r.Filename,
		Owner:    r.Owner,
		Group:    r.Group,
		Mode:     r.Mode,
		Created:  r.Created.UTC().Format(time.RFC3339),
		Modified: r.Modified.UTC().Format(time.RFC3339),
		MimeType: r.MimeType,
	}
	if r.Skip {
		mr.Skip = "yes"
	} else {
		mr.Skip = "no"
	}
	if r.Doctype != nil {
		mr.NamedDoctype = r.Doctype.Name
		mr.PublicID = r.Doctype.PublicID
		mr.SystemID = r.Doctype.SystemID
	}
	b.doc.Resources = append(b.doc.Resources, mr)
}

// ResourceAttrs carries the attributes one <resource> entry records.
type ResourceAttrs struct {
	Kind     DocumentKind
	Name     string
	Filename string
	Skip     bool
	Owner    string
	Group    string
	Mode     string
	Created  time.Time
	Modified time.Time
	MimeType string
	Doctype  *Doctype
}

// AddSubcollection appends a <subcollection> entry.
func (b *ManifestBuilder) AddSubcollection(name, filename string) {
	b.doc.Subcollections = append(b.doc.Subcollections, manifestSubcollection{Name: name, Filename: filename})
}

// AddDeleted appends a <deleted> entry for a collection or resource that
// existed in the predecessor archive but no longer exists.
func (b *ManifestBuilder) AddDeleted(name, kind string) {
	b.doc.Deleted = append(b.doc.Deleted, manifestDeleted{Name: name, Type: kind})
}

// WriteTo serializes the manifest with an XML declaration and
// indentation.
func (b *ManifestBuilder) WriteTo(w io.Writer) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(b.doc); err != nil {
		return fmt.Errorf("export: failed to encode manifest: %w", err)
	}
	return enc.Flush()
}

// ParsedManifest is a read-only view over a predecessor archive's
// collection manifest, used by CollectionExporter's deletion pass
// and by BackupDescriptor.
type ParsedManifest struct {
	doc manifestDocument
}

// ParseManifest decodes one collection manifest document.
func ParseManifest(r io.Reader) (*ParsedManifest, error) {
	var doc manifestDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("export: failed to parse manifest: %w", err)
	}
	return &ParsedManifest{doc: doc}, nil
}

// Name is the manifest's collection URI.
func (p *ParsedManifest) Name() string { return p.doc.Name }

// SubcollectionNames returns the original (un-encoded) names of every
// <subcollection> entry.
func (p *ParsedManifest) SubcollectionNames() []string {
	names := make([]string, len(p.doc.Subcollections))
	for i, s := range p.doc.Subcollections {
		names[i] = s.Name
	}
	return names
}

// ResourceNames returns the original (un-encoded) names of every
// <resource> entry.
func (p *ParsedManifest) ResourceNames() []string {
	names := make([]string, len(p.doc.Resources))
	for i, r := range p.doc.Resources {
		names[i] = r.Name
	}
	return names
}
