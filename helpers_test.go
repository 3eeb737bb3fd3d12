package omt

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// genericRecord builds a generic header followed by its offset table, the
// parts and two CRC footers. The size field covers the whole record.
func genericRecord(name, typ string, parts ...[]byte) []byte {
	be := binary.BigEndian
	b := make([]byte, genericHeaderLen+4*len(parts))
	copy(b[0:8], name)
	copy(b[12:16], typ)
	be.PutUint32(b[56:], uint32(len(parts)))
	off := len(b)
	for i, p := range parts {
		be.PutUint32(b[genericHeaderLen+4*i:], uint32(off))
		off += len(p)
	}
	for _, p := range parts {
		b = append(b, p...)
	}
	b = append(b, make([]byte, 2*crcLen)...)
	be.PutUint32(b[8:], uint32(len(b)))
	return b
}

func archiveRecord(name string, parts ...[]byte) []byte {
	be := binary.BigEndian
	b := make([]byte, archiveHeaderLen+4*len(parts))
	copy(b[0:8], name)
	be.PutUint32(b[32:], 1)
	be.PutUint32(b[48:], uint32(len(parts)))
	off := len(b)
	for i, p := range parts {
		be.PutUint32(b[archiveHeaderLen+4*i:], uint32(off))
		off += len(p)
	}
	for _, p := range parts {
		b = append(b, p...)
	}
	b = append(b, make([]byte, 2*crcLen)...)
	be.PutUint32(b[44:], uint32(len(b)))
	return b
}

func deflate(t *testing.T, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(content)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func archivePart(t *testing.T, content []byte) []byte {
	t.Helper()
	z := deflate(t, content)
	b := make([]byte, archivePartHeaderLen, archivePartHeaderLen+len(z))
	copy(b, []byte{0x00, 0x00, 0x01, 0x04})
	binary.BigEndian.PutUint32(b[4:], uint32(len(z)))
	binary.BigEndian.PutUint32(b[12:], uint32(len(content)))
	return append(b, z...)
}

func lmcList(body string) []byte {
	return append([]byte{0x01, 0x00, 0x00, 0x00}, body...)
}

type testEngine struct {
	*Engine
	tree  *Tree
	stats *Stats
	dir   string
}

func newTestEngine(t *testing.T, listOnly bool) *testEngine {
	t.Helper()
	dir := t.TempDir()
	stats := &Stats{}
	tree := NewTree()
	t.Cleanup(func() { tree.Close() })
	logger := discardLogger()
	w := NewWriter(tree, dir, listOnly, stats, logger)
	return &testEngine{
		Engine: NewEngine(tree, w, stats, logger),
		tree:   tree,
		stats:  stats,
		dir:    dir,
	}
}

func (te *testEngine) root(name string, raw []byte) RecordID {
	return te.tree.AddRoot(name, raw, nil)
}

func (te *testEngine) readOutput(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(te.dir, name))
	require.NoError(t, err)
	return b
}

func (te *testEngine) outputs(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(te.dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
