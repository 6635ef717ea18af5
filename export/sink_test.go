package export

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZipArchiveSink_CollectionAndEntry(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "out.zip")

	sink, err := NewZipArchiveSink(archivePath)
	require.NoError(t, err)

	require.NoError(t, sink.SetProperties(ctx, map[string]string{"incremental": "no"}))
	require.NoError(t, sink.NewCollection(ctx, "c"))

	contents, err := sink.NewContents(ctx)
	require.NoError(t, err)
	_, err = contents.Write([]byte("<collection/>"))
	require.NoError(t, err)
	require.NoError(t, sink.CloseContents(ctx))

	entry, err := sink.NewEntry(ctx, "a.xml")
	require.NoError(t, err)
	_, err = entry.Write([]byte("<r/>"))
	require.NoError(t, err)
	require.NoError(t, sink.CloseEntry(ctx))

	require.NoError(t, sink.CloseCollection(ctx))
	require.NoError(t, sink.Close())

	zr, err := zip.OpenReader(archivePath)
	require.NoError(t, err)
	defer zr.Close()

	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	require.True(t, names["backup.properties"])
	require.True(t, names["db/c/__contents__.xml"])
	require.True(t, names["db/c/a.xml"])
}

func TestFileTreeArchiveSink_CollectionAndEntry(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	sink, err := NewFileTreeArchiveSink(root)
	require.NoError(t, err)

	require.NoError(t, sink.NewCollection(ctx, "c"))
	contents, err := sink.NewContents(ctx)
	require.NoError(t, err)
	_, err = contents.Write([]byte("<collection/>"))
	require.NoError(t, err)
	require.NoError(t, sink.CloseContents(ctx))

	entry, err := sink.NewEntry(ctx, "a.xml")
	require.NoError(t, err)
	_, err = entry.Write([]byte("<r/>"))
	require.NoError(t, err)
	require.NoError(t, sink.CloseEntry(ctx))
	require.NoError(t, sink.CloseCollection(ctx))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(filepath.Join(root, "db", "c", "a.xml"))
	require.NoError(t, err)
	require.Equal(t, "<r/>", string(data))

	_, err = os.Stat(filepath.Join(root, "db", "c", "__contents__.xml"))
	require.NoError(t, err)
}

func TestArchiveSink_NewEntryWithoutCollectionFails(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	sink, err := NewZipArchiveSink(filepath.Join(dir, "out.zip"))
	require.NoError(t, err)
	defer sink.Close()

	_, err = sink.NewEntry(ctx, "a.xml")
	require.ErrorIs(t, err, ErrNoActiveCollectionScope)
}
