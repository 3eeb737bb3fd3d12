package omt

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultOutputDir = "extract"
	DefaultTool      = "binwalk"
)

// DefaultToolArgs are passed to the fallback tool before the file path.
var DefaultToolArgs = []string{"-eMv"}

// Options configure an extraction run.
type Options struct {
	SourceDir  string
	OutputDir  string
	ListOnly   bool
	NoFallback bool

	// Jobs caps concurrent fallback workers; 0 selects DefaultJobs.
	Jobs        int
	Tool        string
	ToolArgs    []string
	ToolTimeout time.Duration

	// Runner replaces the external tool when set.
	Runner Runner

	// Progress, if set, receives the fallback progress bar.
	Progress io.Writer
}

func (o *Options) setDefaults() {
	if o.OutputDir == "" {
		o.OutputDir = DefaultOutputDir
	}
	if o.Tool == "" {
		o.Tool = DefaultTool
	}
	if o.ToolArgs == nil {
		o.ToolArgs = DefaultToolArgs
	}
	if o.Jobs <= 0 {
		o.Jobs = DefaultJobs()
	}
}

// Validate rejects options a run cannot start with.
func (o *Options) Validate() error {
	if o.SourceDir == "" {
		return errors.New("upgrade directory is required")
	}
	if o.Jobs < 0 {
		return errors.Errorf("invalid number of jobs: %d", o.Jobs)
	}
	if o.ToolTimeout < 0 {
		return errors.Errorf("invalid tool timeout: %s", o.ToolTimeout)
	}
	return nil
}

// Extractor runs the whole pipeline: source validation, record extraction,
// reassembly of split archives and the fallback tool pass.
type Extractor struct {
	opts  Options
	log   *slog.Logger
	stats Stats
}

func NewExtractor(opts Options, logger *slog.Logger) *Extractor {
	opts.setDefaults()
	return &Extractor{opts: opts, log: logger}
}

// Run processes the upgrade directory. Only setup problems are returned as
// errors; everything else is counted in the returned Stats.
func (x *Extractor) Run(ctx context.Context) (*Stats, error) {
	if err := x.opts.Validate(); err != nil {
		return nil, err
	}
	upgradeDir, err := filepath.Abs(x.opts.SourceDir)
	if err != nil {
		return nil, errors.Wrap(err, "upgrade directory")
	}
	if st, err := os.Stat(upgradeDir); err != nil || !st.IsDir() {
		return nil, errors.Errorf("upgrade directory does not exist: %s", x.opts.SourceDir)
	}
	extractDir, err := filepath.Abs(x.opts.OutputDir)
	if err != nil {
		return nil, errors.Wrap(err, "output directory")
	}
	if !x.opts.ListOnly {
		if err := os.MkdirAll(extractDir, 0o700); err != nil {
			return nil, errors.Wrapf(err, "failed to create directory %s", extractDir)
		}
	}
	x.stats.UpgradeDir, x.stats.ExtractDir = upgradeDir, extractDir

	x.log.Info("reading files in upgrade directory", "dir", upgradeDir)
	sources, err := ScanDir(upgradeDir, &x.stats, x.log)
	if err != nil {
		return nil, err
	}

	tree := NewTree()
	defer tree.Close()
	writer := NewWriter(tree, extractDir, x.opts.ListOnly, &x.stats, x.log)
	engine := NewEngine(tree, writer, &x.stats, x.log)

	if x.opts.ListOnly {
		x.log.Info("listing records")
	} else {
		x.log.Info("extracting records")
	}
	for _, src := range sources {
		id := tree.AddRoot(src.Name, src.Bytes(), src)
		x.log.Info("file", "name", src.Name, "size", src.Size())
		engine.Extract(id, 1)
	}
	engine.Reassemble()

	if !x.opts.ListOnly && !x.opts.NoFallback && len(engine.Fallback()) > 0 {
		x.runFallback(ctx, tree, engine.Fallback(), extractDir)
	}
	if err := writer.WriteManifest(); err != nil {
		reporter{log: x.log, stats: &x.stats}.warn("manifest not written", "err", err)
	}
	return &x.stats, nil
}

func (x *Extractor) runFallback(ctx context.Context, tree *Tree, queue []RecordID, dir string) {
	rep := reporter{log: x.log, stats: &x.stats}
	jobs := make([]Job, 0, len(queue))
	for _, id := range queue {
		rec := tree.Get(id)
		if rec.Path == "" {
			rep.warn("record was not written, skipping fallback", "record", headerASCII(rec.Raw))
			continue
		}
		jobs = append(jobs, Job{Record: id, Path: rec.Path})
	}

	runner := x.opts.Runner
	if runner == nil {
		runner = &ToolRunner{
			Tool:    x.opts.Tool,
			Args:    x.opts.ToolArgs,
			Dir:     dir,
			Timeout: x.opts.ToolTimeout,
		}
	}
	d := &Dispatcher{
		Runner:   runner,
		Dir:      dir,
		Tag:      filepath.Base(x.opts.Tool),
		Limit:    x.opts.Jobs,
		Progress: x.opts.Progress,
		Log:      x.log,
	}
	for _, res := range d.Run(ctx, jobs) {
		x.stats.FallbackRun++
		if res.Failed() {
			x.stats.FallbackFailed++
			rep.warn("fallback tool exited with error", "tool", d.Tag, "code", res.ExitCode, "path", res.Path, "err", res.Err)
		}
	}
}
