package export

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFullArchive(t *testing.T, dir, name string, props BackupProperties, collURI string) string {
	t.Helper()
	archivePath := filepath.Join(dir, name)
	sink, err := NewFileTreeArchiveSink(archivePath)
	require.NoError(t, err)
	require.NoError(t, sink.SetProperties(context.Background(), props.AsMap()))
	require.NoError(t, sink.NewCollection(context.Background(), ""))
	contents, err := sink.NewContents(context.Background())
	require.NoError(t, err)
	b := NewManifestBuilder(CollectionAttrs{Name: collURI, Mode: "0755", Created: time.Now()})
	b.AddResource(ResourceAttrs{Kind: KindXML, Name: "a.xml", Filename: "a.xml", Created: time.Now(), Modified: time.Now(), MimeType: "text/xml"})
	require.NoError(t, b.WriteTo(contents))
	require.NoError(t, sink.CloseContents(context.Background()))
	require.NoError(t, sink.CloseCollection(context.Background()))
	require.NoError(t, sink.Close())
	return archivePath
}

func TestBackupDirectory_LastBackupPicksGreatestTimestamp(t *testing.T) {
	dir := t.TempDir()
	writeFullArchive(t, dir, "backup-20260101-0100", BackupProperties{NrInSequence: 1}, "/db")
	writeFullArchive(t, dir, "backup-20260201-0100", BackupProperties{NrInSequence: 1}, "/db")

	bd, err := NewBackupDirectory(dir, false, nil)
	require.NoError(t, err)
	desc, ok, err := bd.LastBackup()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "backup-20260201-0100", desc.Name())
}

func TestBackupDirectory_CreateBackupSequenceResetAtMax(t *testing.T) {
	dir := t.TempDir()
	writeFullArchive(t, dir, "backup-20260101-0100", BackupProperties{NrInSequence: 2, Incremental: true}, "/db")

	bd, err := NewBackupDirectory(dir, false, nil)
	require.NoError(t, err)

	_, props, err := bd.CreateBackup(context.Background(), true, 2)
	require.NoError(t, err)
	require.False(t, props.Incremental)
	require.Equal(t, 1, props.NrInSequence)
	require.Empty(t, props.Previous)
}

func TestBackupDirectory_CreateBackupIncrements(t *testing.T) {
	dir := t.TempDir()
	writeFullArchive(t, dir, "backup-20260101-0100", BackupProperties{NrInSequence: 1}, "/db")

	bd, err := NewBackupDirectory(dir, false, nil)
	require.NoError(t, err)

	_, props, err := bd.CreateBackup(context.Background(), true, 5)
	require.NoError(t, err)
	require.True(t, props.Incremental)
	require.Equal(t, 2, props.NrInSequence)
	require.Equal(t, "backup-20260101-0100", props.Previous)
}

func TestBackupDescriptor_BackupDescriptorForReadsManifest(t *testing.T) {
	dir := t.TempDir()
	archivePath := writeFullArchive(t, dir, "backup-20260101-0100", BackupProperties{NrInSequence: 1}, "/db")

	desc := NewBackupDescriptor(archivePath)
	m, ok, err := desc.BackupDescriptorFor(context.Background(), "/db")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "/db", m.Name())
	require.Equal(t, []string{"a.xml"}, m.ResourceNames())
}
