package omt

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// ManifestName is the index of written files kept in the output directory.
const ManifestName = "_manifest.txt"

type manifestEntry struct {
	name string
	size int
	sum  [blake2b.Size256]byte
}

// Writer persists record content into a flat output directory.
type Writer struct {
	tree     *Tree
	dir      string
	listOnly bool
	rep      reporter
	manifest []manifestEntry
}

func NewWriter(tree *Tree, dir string, listOnly bool, stats *Stats, logger *slog.Logger) *Writer {
	return &Writer{
		tree:     tree,
		dir:      dir,
		listOnly: listOnly,
		rep:      reporter{log: logger, stats: stats},
	}
}

// Write stores part n of rec. Once the file is on disk its name is kept in
// rec.Path. A failed write is counted and only aborts that file.
func (w *Writer) Write(rec *Record, n int, data []byte) {
	if w.listOnly {
		return
	}
	name := w.tree.OutputName(rec.ID, n)
	path := filepath.Join(w.dir, name)
	w.rep.log.Info("writing file", "depth", rec.Depth+1, "part", n, "path", path, "size", humanize.Bytes(uint64(len(data))))

	if err := writeFile(path, data); err != nil {
		w.rep.stats.WriteErrors++
		w.rep.warn("error writing file", "path", path, "err", err)
		return
	}
	rec.Path = name
	w.rep.stats.Extracted++
	w.rep.stats.BytesWritten += int64(len(data))
	w.manifest = append(w.manifest, manifestEntry{name: name, size: len(data), sum: blake2b.Sum256(data)})
}

func writeFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	return f.Close()
}

// WriteManifest lists every file written so far with its size and BLAKE2b-256
// digest.
func (w *Writer) WriteManifest() error {
	if w.listOnly || len(w.manifest) == 0 {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(w.dir, ManifestName), os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "creating manifest")
	}
	bw := bufio.NewWriter(f)
	for _, e := range w.manifest {
		fmt.Fprintf(bw, "%x  %12d  %s\n", e.sum, e.size, e.name)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return errors.Wrap(err, "writing manifest")
	}
	return f.Close()
}
