package omt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

func TestOutputName(t *testing.T) {
	tree := NewTree()
	root := tree.AddRoot("FILE0001", nil, nil)
	arch, err := tree.AddChild(root, 2, nil)
	require.NoError(t, err)
	tree.Get(arch).SetName("arch  name /x ", "")
	leaf, err := tree.AddChild(arch, 0, nil)
	require.NoError(t, err)
	tree.Get(leaf).SetName("leaf", "bin")

	assert.Equal(t, "FILE0001_2-arch_name_-x_leaf-3.bin", tree.OutputName(leaf, 3))
	assert.Equal(t, "FILE0001_2-arch_name_-x_leaf.bin", tree.OutputName(leaf, 0))
	assert.Equal(t, "FILE0001_2-arch_name_-x", tree.OutputName(arch, 0))
	assert.Equal(t, "FILE0001-1", tree.OutputName(root, 1))
}

func TestOutputNameUnnamedParts(t *testing.T) {
	tree := NewTree()
	root := tree.AddRoot("FILE0001", nil, nil)
	mid, err := tree.AddChild(root, 1, nil)
	require.NoError(t, err)
	leaf, err := tree.AddChild(mid, PartReplacesParent, nil)
	require.NoError(t, err)
	tree.Get(leaf).SetName("x", "")

	// Unnamed records contribute neither a name nor a part number.
	assert.Equal(t, "FILE0001_x", tree.OutputName(leaf, 0))
}

func TestOutputNameHasNoSeparators(t *testing.T) {
	tree := NewTree()
	root := tree.AddRoot("a/b", nil, nil)
	child, err := tree.AddChild(root, 0, nil)
	require.NoError(t, err)
	tree.Get(child).SetName("../../etc/passwd", "")

	name := tree.OutputName(child, 0)
	assert.NotContains(t, name, "/")
	assert.Equal(t, "a-b_..-..-etc-passwd", name)
}

func TestAddChildLimit(t *testing.T) {
	tree := NewTree()
	root := tree.AddRoot("FILE0001", nil, nil)
	for i := 0; i < MaxChildren; i++ {
		_, err := tree.AddChild(root, i, nil)
		require.NoError(t, err)
	}
	_, err := tree.AddChild(root, MaxChildren, nil)
	assert.ErrorIs(t, err, ErrTooManyChildren)
}

func TestWriterWrite(t *testing.T) {
	dir := t.TempDir()
	stats := &Stats{}
	tree := NewTree()
	w := NewWriter(tree, dir, false, stats, discardLogger())

	rec := tree.Get(tree.AddRoot("FILE0001", nil, nil))
	rec.Ext = "bin"
	w.Write(rec, 0, []byte("hello"))
	w.Write(rec, 1, []byte("world!"))

	assert.Equal(t, "FILE0001-1.bin", rec.Path)
	b, err := os.ReadFile(filepath.Join(dir, "FILE0001.bin"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
	assert.Equal(t, 2, stats.Extracted)
	assert.Equal(t, int64(11), stats.BytesWritten)

	require.NoError(t, w.WriteManifest())
	manifest, err := os.ReadFile(filepath.Join(dir, ManifestName))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(manifest)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, fmt.Sprintf("%x  %12d  %s", blake2b.Sum256([]byte("hello")), 5, "FILE0001.bin"), lines[0])
	assert.True(t, strings.HasSuffix(lines[1], "FILE0001-1.bin"))
}

func TestWriterOverwrites(t *testing.T) {
	dir := t.TempDir()
	tree := NewTree()
	w := NewWriter(tree, dir, false, &Stats{}, discardLogger())
	rec := tree.Get(tree.AddRoot("FILE0001", nil, nil))

	w.Write(rec, 0, []byte("a longer first version"))
	w.Write(rec, 0, []byte("short"))

	b, err := os.ReadFile(filepath.Join(dir, "FILE0001"))
	require.NoError(t, err)
	assert.Equal(t, "short", string(b))
}

func TestWriterListOnly(t *testing.T) {
	dir := t.TempDir()
	stats := &Stats{}
	tree := NewTree()
	w := NewWriter(tree, dir, true, stats, discardLogger())
	rec := tree.Get(tree.AddRoot("FILE0001", nil, nil))

	w.Write(rec, 0, []byte("data"))
	require.NoError(t, w.WriteManifest())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, rec.Path)
	assert.Zero(t, stats.Extracted)
}

func TestWriterError(t *testing.T) {
	stats := &Stats{}
	tree := NewTree()
	w := NewWriter(tree, filepath.Join(t.TempDir(), "missing"), false, stats, discardLogger())
	rec := tree.Get(tree.AddRoot("FILE0001", nil, nil))

	w.Write(rec, 0, []byte("data"))
	w.Write(rec, 1, []byte("more"))

	assert.Equal(t, 2, stats.WriteErrors)
	assert.Equal(t, 2, stats.Warnings)
	assert.Zero(t, stats.Extracted)
	assert.Empty(t, rec.Path)
}
