package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManifestBuilderRoundTrip(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b := NewManifestBuilder(CollectionAttrs{
		Name:    "/db/apps",
		Owner:   "admin",
		Group:   "dba",
		Mode:    "0755",
		Created: created,
	})
	b.AddResource(ResourceAttrs{
		Kind:     KindXML,
		Name:     "config.xml",
		Filename: "config.xml",
		Owner:    "admin",
		Group:    "dba",
		Mode:     "0644",
		Created:  created,
		Modified: created,
		MimeType: "text/xml",
	})
	b.AddResource(ResourceAttrs{
		Kind:     KindBinary,
		Name:     "logo.png",
		Filename: "logo.png",
		Skip:     true,
		Owner:    "admin",
		Group:    "dba",
		Mode:     "0644",
		Created:  created,
		Modified: created,
		MimeType: "image/png",
	})
	b.AddSubcollection("reports", "reports")
	b.AddDeleted("old-report.xml", "resource")

	var buf bytes.Buffer
	require.NoError(t, b.WriteTo(&buf))
	require.True(t, strings.HasPrefix(buf.String(), "<?xml"))

	parsed, err := ParseManifest(&buf)
	require.NoError(t, err)
	require.Equal(t, "/db/apps", parsed.Name())
	require.Equal(t, []string{"config.xml", "logo.png"}, parsed.ResourceNames())
	require.Equal(t, []string{"reports"}, parsed.SubcollectionNames())
}

func TestManifestBuilderSkipAttr(t *testing.T) {
	created := time.Now()
	b := NewManifestBuilder(CollectionAttrs{Name: "/db", Mode: "0755", Created: created})
	b.AddResource(ResourceAttrs{Kind: KindXML, Name: "a.xml", Filename: "a.xml", Skip: false, Created: created, Modified: created, MimeType: "text/xml"})
	b.AddResource(ResourceAttrs{Kind: KindXML, Name: "b.xml", Filename: "b.xml", Skip: true, Created: created, Modified: created, MimeType: "text/xml"})

	var buf bytes.Buffer
	require.NoError(t, b.WriteTo(&buf))
	s := buf.String()
	require.Contains(t, s, `name="a.xml"`)
	require.Contains(t, s, `skip="no"`)
	require.Contains(t, s, `skip="yes"`)
}
