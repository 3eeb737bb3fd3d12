package omt

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/dustin/go-humanize"
)

// LevelTrace is below slog.LevelDebug and carries byte-level detail.
const LevelTrace = slog.LevelDebug - 4

// LogLevel maps a repeat count of -v to a log level.
func LogLevel(verbosity int) slog.Level {
	switch {
	case verbosity <= 0:
		return slog.LevelInfo
	case verbosity == 1:
		return slog.LevelDebug
	default:
		return LevelTrace
	}
}

// Stats are the run-wide counters printed in the final summary.
type Stats struct {
	SourceFiles  int
	SkippedFiles int

	Records          int
	Unknown          int
	MaxDepth         int
	DepthLimited     int
	NotImplemented   int
	DecompressFailed int

	Extracted    int
	WriteErrors  int
	BytesWritten int64

	Candidates  int
	Reassembled int
	Orphans     int

	FallbackQueued int
	FallbackRun    int
	FallbackFailed int

	Warnings int

	// Control holds the part count of the ZFJ, UCF and MET records.
	Control [controlCount]int

	UpgradeDir string
	ExtractDir string
}

// Print writes the summary table.
func (s *Stats) Print(w io.Writer) {
	fmt.Fprintf(w, "\nsource upgrade files       : %d\n", s.SourceFiles)
	fmt.Fprintf(w, "skipped files              : %d\n", s.SkippedFiles)
	fmt.Fprintf(w, "total number of records    : %d\n", s.Records)
	fmt.Fprintf(w, "unknown records            : %d\n", s.Unknown)
	fmt.Fprintf(w, "records use fallback       : %d\n", s.FallbackQueued)
	fmt.Fprintf(w, "fallback failures          : %d\n", s.FallbackFailed)
	fmt.Fprintf(w, "maximum depth detected     : %d\n", s.MaxDepth)
	fmt.Fprintf(w, "depth limit reached        : %d\n", s.DepthLimited)
	fmt.Fprintf(w, "decompression failures     : %d\n", s.DecompressFailed)
	fmt.Fprintf(w, "reassembled archives       : %d (%d orphaned)\n", s.Reassembled, s.Orphans)
	fmt.Fprintf(w, "Upgrade File Info (ZFJ)    : %d\n", s.Control[ControlZFJ])
	fmt.Fprintf(w, "Upgrade Control File (UCF) : %d\n", s.Control[ControlUCF])
	fmt.Fprintf(w, "Metadata File (MET)        : %d\n", s.Control[ControlMET])
	fmt.Fprintf(w, "extracted files            : %d (%s)\n", s.Extracted, humanize.Bytes(uint64(s.BytesWritten)))
	fmt.Fprintf(w, "write errors               : %d\n", s.WriteErrors)
	fmt.Fprintf(w, "warnings                   : %d\n", s.Warnings)
	fmt.Fprintf(w, "upgrade directory          : %s\n", s.UpgradeDir)
	fmt.Fprintf(w, "extract directory          : %s\n", s.ExtractDir)
}

// reporter logs recoverable conditions and counts them. It is used from the
// extraction goroutine only.
type reporter struct {
	log   *slog.Logger
	stats *Stats
}

func (r reporter) warn(msg string, args ...any) {
	r.stats.Warnings++
	r.log.Warn(msg, args...)
}
