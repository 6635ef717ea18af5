package export_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"xdbexport/boltbroker"
	"xdbexport/export"
)

// seedScenario1 builds a minimal database: one collection /db/c holding
// one XML document a.xml (<r/>), no prior backup.
func seedScenario1(t *testing.T) *boltbroker.Broker {
	t.Helper()
	b, err := boltbroker.Open(filepath.Join(t.TempDir(), "db.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	seeder := boltbroker.NewSeeder(b)
	now := time.Now()
	require.NoError(t, seeder.AddCollection(1, "/db", "admin", "dba", 0755, now, []string{"/db/c"}))
	require.NoError(t, seeder.AddCollection(2, "/db/c", "admin", "dba", 0755, now, nil))
	require.NoError(t, seeder.AddXMLDocument(2, "/db/c", 100, "a.xml", "admin", "dba", 0644, now, now, nil,
		[]export.StreamEvent{{Type: export.EventStartElement, Name: "r"}, {Type: export.EventEndElement, Name: "r"}}))
	return b
}

func TestExport_FullArchiveFileTree(t *testing.T) {
	broker := seedScenario1(t)
	targetDir := t.TempDir()

	archivePath, err := export.Export(context.Background(), broker, boltbroker.Codec{}, export.Options{
		TargetDir:      targetDir,
		Incremental:    false,
		MaxIncremental: -1,
		Zip:            false,
	})
	require.NoError(t, err)
	require.DirExists(t, archivePath)

	data, err := readFile(filepath.Join(archivePath, "db", "c", "a.xml"))
	require.NoError(t, err)
	require.Equal(t, `<?xml version="1.0" encoding="UTF-8"?><r></r>`, data)

	manifest, err := readFile(filepath.Join(archivePath, "db", "c", "__contents__.xml"))
	require.NoError(t, err)
	require.Contains(t, manifest, `name="a.xml"`)
	require.Contains(t, manifest, `skip="no"`)
}

func TestExport_IncrementalSkipsUnmodifiedResource(t *testing.T) {
	broker := seedScenario1(t)
	targetDir := t.TempDir()

	full, err := export.Export(context.Background(), broker, boltbroker.Codec{}, export.Options{
		TargetDir: targetDir, MaxIncremental: -1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, full)

	incPath, err := export.Export(context.Background(), broker, boltbroker.Codec{}, export.Options{
		TargetDir: targetDir, Incremental: true, MaxIncremental: -1,
	})
	require.NoError(t, err)

	manifest, err := readFile(filepath.Join(incPath, "db", "c", "__contents__.xml"))
	require.NoError(t, err)
	require.Contains(t, manifest, `skip="yes"`)

	_, err = readFile(filepath.Join(incPath, "db", "c", "a.xml"))
	require.Error(t, err)
}

// TestExport_ChildCollectionDamagedSkipsDirectoryAndRescuesDocuments
// covers a collection flagged CHILD_COLLECTION in the error list: its own
// directory and manifest must not appear in the archive, and its
// documents must surface under __lost_and_found__ instead.
func TestExport_ChildCollectionDamagedSkipsDirectoryAndRescuesDocuments(t *testing.T) {
	b, err := boltbroker.Open(filepath.Join(t.TempDir(), "db.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	seeder := boltbroker.NewSeeder(b)
	now := time.Now()
	require.NoError(t, seeder.AddCollection(1, "/db", "admin", "dba", 0755, now, []string{"/db/c"}))
	require.NoError(t, seeder.AddCollection(2, "/db/c", "admin", "dba", 0755, now, nil))
	require.NoError(t, seeder.AddXMLDocument(2, "/db/c", 100, "a.xml", "admin", "dba", 0644, now, now, nil,
		[]export.StreamEvent{{Type: export.EventStartElement, Name: "r"}, {Type: export.EventEndElement, Name: "r"}}))

	targetDir := t.TempDir()
	archivePath, err := export.Export(context.Background(), b, boltbroker.Codec{}, export.Options{
		TargetDir:      targetDir,
		MaxIncremental: -1,
		Errors: []export.ErrorReport{
			{Kind: export.ChildCollectionError, CollectionID: 2, URI: "/db/c"},
		},
	})
	require.NoError(t, err)

	require.NoDirExists(t, filepath.Join(archivePath, "db", "c"))

	manifest, err := readFile(filepath.Join(archivePath, "db", "__lost_and_found__", "__contents__.xml"))
	require.NoError(t, err)
	require.Contains(t, manifest, `name="a.xml"`)

	data, err := readFile(filepath.Join(archivePath, "db", "__lost_and_found__", "a.xml"))
	require.NoError(t, err)
	require.Equal(t, `<?xml version="1.0" encoding="UTF-8"?><r></r>`, data)
}

// TestExport_IncrementalRecordsDeletedResource covers an incremental
// export against a predecessor whose collection contained a resource
// that no longer exists: the manifest must record a <deleted> entry
// for it instead of silently dropping it.
func TestExport_IncrementalRecordsDeletedResource(t *testing.T) {
	targetDir := t.TempDir()

	full, err := boltbroker.Open(filepath.Join(t.TempDir(), "db.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { full.Close() })
	seeder := boltbroker.NewSeeder(full)
	now := time.Now()
	require.NoError(t, seeder.AddCollection(1, "/db", "admin", "dba", 0755, now, []string{"/db/c"}))
	require.NoError(t, seeder.AddCollection(2, "/db/c", "admin", "dba", 0755, now, nil))
	require.NoError(t, seeder.AddXMLDocument(2, "/db/c", 100, "a.xml", "admin", "dba", 0644, now, now, nil,
		[]export.StreamEvent{{Type: export.EventStartElement, Name: "r"}, {Type: export.EventEndElement, Name: "r"}}))
	require.NoError(t, seeder.AddXMLDocument(2, "/db/c", 101, "b.xml", "admin", "dba", 0644, now, now, nil,
		[]export.StreamEvent{{Type: export.EventStartElement, Name: "r"}, {Type: export.EventEndElement, Name: "r"}}))

	_, err = export.Export(context.Background(), full, boltbroker.Codec{}, export.Options{
		TargetDir: targetDir, MaxIncremental: -1,
	})
	require.NoError(t, err)

	// A second, independent database with b.xml already removed from /db/c,
	// standing in for the live collection's state at the next export call.
	pruned, err := boltbroker.Open(filepath.Join(t.TempDir(), "db2.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { pruned.Close() })
	prunedSeeder := boltbroker.NewSeeder(pruned)
	require.NoError(t, prunedSeeder.AddCollection(1, "/db", "admin", "dba", 0755, now, []string{"/db/c"}))
	require.NoError(t, prunedSeeder.AddCollection(2, "/db/c", "admin", "dba", 0755, now, nil))
	require.NoError(t, prunedSeeder.AddXMLDocument(2, "/db/c", 100, "a.xml", "admin", "dba", 0644, now, now, nil,
		[]export.StreamEvent{{Type: export.EventStartElement, Name: "r"}, {Type: export.EventEndElement, Name: "r"}}))

	incPath, err := export.Export(context.Background(), pruned, boltbroker.Codec{}, export.Options{
		TargetDir: targetDir, Incremental: true, MaxIncremental: -1,
	})
	require.NoError(t, err)

	manifest, err := readFile(filepath.Join(incPath, "db", "c", "__contents__.xml"))
	require.NoError(t, err)
	require.Contains(t, manifest, `<deleted name="b.xml" type="resource"`)
}

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
