package boltbroker

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"xdbexport/export"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	b, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBroker_ScanCollectionsFailsafe(t *testing.T) {
	b := newTestBroker(t)
	seeder := NewSeeder(b)
	now := time.Now()
	require.NoError(t, seeder.AddCollection(1, "/db", "admin", "dba", 0755, now, []string{"/db/c"}))
	require.NoError(t, seeder.AddCollection(2, "/db/c", "admin", "dba", 0755, now, nil))

	codec := Codec{}
	var uris []string
	err := b.ScanCollectionsFailsafe(context.Background(), func(ctx context.Context, rawKey []byte, record io.Reader) error {
		_, uri, ok := codec.DecodeCollectionKey(rawKey)
		if !ok {
			return nil
		}
		uris = append(uris, uri)
		_, _ = io.Copy(io.Discard, record)
		return nil
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"/db", "/db/c"}, uris)
}

func TestBroker_DocumentsAndReadBinaryResource(t *testing.T) {
	b := newTestBroker(t)
	seeder := NewSeeder(b)
	now := time.Now()
	require.NoError(t, seeder.AddCollection(1, "/db/c", "admin", "dba", 0755, now, nil))
	require.NoError(t, seeder.AddBinaryDocument(1, "/db/c", 10, "logo.png", "admin", "dba", 0644, now, now, "image/png", []byte{1, 2, 3, 4}))

	docs, err := b.Documents(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "logo.png", docs[0].FileURI)
	require.Equal(t, export.KindBinary, docs[0].Kind)

	var buf []byte
	w := &sliceWriter{buf: &buf}
	require.NoError(t, b.ReadBinaryResource(context.Background(), docs[0], w))
	require.Equal(t, []byte{1, 2, 3, 4}, buf)
}

func TestBroker_XMLStreamReaderReplaysEvents(t *testing.T) {
	b := newTestBroker(t)
	seeder := NewSeeder(b)
	now := time.Now()
	require.NoError(t, seeder.AddCollection(1, "/db/c", "admin", "dba", 0755, now, nil))
	events := []export.StreamEvent{
		{Type: export.EventStartElement, Name: "r", NewPrefixes: []export.PrefixDecl{{Prefix: "", URI: "urn:test"}}},
		{Type: export.EventCharacters, Text: "hi"},
		{Type: export.EventEndElement, Name: "r"},
	}
	require.NoError(t, seeder.AddXMLDocument(1, "/db/c", 20, "a.xml", "admin", "dba", 0644, now, now, nil, events))

	docs, err := b.Documents(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	reader, err := b.XMLStreamReader(context.Background(), docs[0], true)
	require.NoError(t, err)
	defer reader.Close()

	var got []export.EventType
	for {
		ev, err := reader.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, ev.Type)
	}
	require.Equal(t, []export.EventType{export.EventStartElement, export.EventCharacters, export.EventEndElement}, got)
}

type sliceWriter struct{ buf *[]byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}
