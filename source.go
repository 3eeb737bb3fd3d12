package omt

import (
	"encoding/binary"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

var (
	ErrFileTooSmall   = errors.New("file too small")
	ErrNotUpgradeFile = errors.New("not an Upgrade File")
	ErrSizeMismatch   = errors.New("file size differs from header size")
)

// Source is an immutable, memory mapped source file.
type Source struct {
	Name    string
	data    []byte
	release func() error
}

// OpenSource maps the file at path read-only.
func OpenSource(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	data, release, err := mapFile(f, int(st.Size()))
	if err != nil {
		return nil, errors.Wrapf(err, "mapping %s", path)
	}
	return &Source{Name: filepath.Base(path), data: data, release: release}, nil
}

func (s *Source) Bytes() []byte {
	return s.data
}

func (s *Source) Size() int {
	return len(s.data)
}

// Close releases the mapping. The bytes must not be used afterwards.
func (s *Source) Close() error {
	if s.release == nil {
		return nil
	}
	release := s.release
	s.release, s.data = nil, nil
	return release()
}

// ValidateHeader checks that data is an Upgrade File called name: its
// embedded 8 byte name matches the file name and its embedded size matches
// the file size.
func ValidateHeader(name string, data []byte) error {
	if len(data) < MinFileSize {
		return errors.Wrapf(ErrFileTooSmall, "%d bytes", len(data))
	}
	if !nameFieldMatches(data[:nameLen], name) {
		return errors.Wrapf(ErrNotUpgradeFile, "header name %q", cstring(data[:nameLen]))
	}
	if size := binary.BigEndian.Uint32(data[8:]); int64(size) != int64(len(data)) {
		return errors.Wrapf(ErrSizeMismatch, "file is %d bytes, header says %d", len(data), size)
	}
	return nil
}

// nameFieldMatches compares at most 8 characters, stopping at a NUL in the
// header field like a C string comparison.
func nameFieldMatches(field []byte, name string) bool {
	for i := 0; i < nameLen; i++ {
		var c byte
		if i < len(name) {
			c = name[i]
		}
		if field[i] != c {
			return false
		}
		if c == 0 {
			return true
		}
	}
	return true
}

// ScanDir opens every valid Upgrade File in dir, in directory order.
// Invalid files are skipped with one warning each and counted in
// stats.SkippedFiles.
func ScanDir(dir string, stats *Stats, logger *slog.Logger) ([]*Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "could not open directory")
	}
	rep := reporter{log: logger, stats: stats}
	var sources []*Source
	for _, de := range entries {
		path := filepath.Join(dir, de.Name())
		st, err := os.Stat(path)
		if err != nil {
			rep.warn("could not stat file, skipping", "file", de.Name(), "err", err)
			stats.SkippedFiles++
			continue
		}
		if !st.Mode().IsRegular() {
			logger.Info("not a regular file, skipping", "file", de.Name())
			stats.SkippedFiles++
			continue
		}
		if st.Size() < MinFileSize {
			rep.warn("file too small, skipping", "file", de.Name(), "size", st.Size())
			stats.SkippedFiles++
			continue
		}
		src, err := OpenSource(path)
		if err != nil {
			rep.warn("could not open file, skipping", "file", de.Name(), "err", err)
			stats.SkippedFiles++
			continue
		}
		if err := ValidateHeader(de.Name(), src.Bytes()); err != nil {
			rep.warn("skipping file", "file", de.Name(), "err", err)
			src.Close()
			stats.SkippedFiles++
			continue
		}
		logger.Debug("source file", "file", src.Name, "size", humanize.Bytes(uint64(src.Size())))
		sources = append(sources, src)
	}
	stats.SourceFiles = len(sources)
	return sources, nil
}
