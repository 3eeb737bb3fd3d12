package omt

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"
	"golang.org/x/sync/errgroup"
)

// DefaultJobs is the default number of concurrent fallback workers.
func DefaultJobs() int {
	return max(1, runtime.NumCPU()/2+1)
}

// Runner runs the fallback tool on one file, sending its output to logPath.
// It returns the tool's exit code.
type Runner interface {
	Run(ctx context.Context, path, logPath string) (int, error)
}

// ToolRunner runs an external binary analysis tool as a subprocess.
type ToolRunner struct {
	Tool string
	Args []string

	// Dir is the working directory of the tool, where it extracts to.
	Dir string

	// Timeout, if positive, kills the tool once it expires.
	Timeout time.Duration
}

func (r *ToolRunner) Run(ctx context.Context, path, logPath string) (int, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	logFile, err := os.OpenFile(logPath, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return -1, errors.Wrap(err, "creating tool log")
	}
	defer logFile.Close()

	args := append(append([]string{}, r.Args...), path)
	cmd := exec.CommandContext(ctx, r.Tool, args...)
	cmd.Dir = r.Dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	err = cmd.Run()
	if err == nil {
		return 0, nil
	}
	if ctx.Err() != nil {
		return -1, errors.Wrapf(ctx.Err(), "%s on %s", r.Tool, path)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, errors.Wrapf(err, "running %s", r.Tool)
}

// Job is one written file to hand to the fallback tool.
type Job struct {
	Record RecordID
	Path   string
}

// Result is the outcome of one Job.
type Result struct {
	Job
	ExitCode int
	Err      error
}

func (r Result) Failed() bool {
	return r.Err != nil || r.ExitCode != 0
}

// Dispatcher runs the fallback tool over queued files with bounded
// parallelism.
type Dispatcher struct {
	Runner Runner

	// Dir is the output directory holding the job files and tool logs.
	Dir string

	// Tag names the tool in log file names.
	Tag string

	// Limit caps the number of concurrently running workers.
	Limit int

	// Progress, if set, receives a progress bar.
	Progress io.Writer

	Log *slog.Logger
}

// LogPath returns the log file of a job.
func (d *Dispatcher) LogPath(job Job) string {
	return filepath.Join(d.Dir, "_"+job.Path+"."+d.Tag+".log")
}

// Run executes every job and returns one result per job, in job order,
// once all workers have exited. Failures never stop other jobs.
func (d *Dispatcher) Run(ctx context.Context, jobs []Job) []Result {
	limit := d.Limit
	if limit <= 0 {
		limit = DefaultJobs()
	}
	d.Log.Info("running fallback tool", "tool", d.Tag, "files", len(jobs), "tasks", limit)

	var (
		progress *mpb.Progress
		bar      *mpb.Bar
	)
	if d.Progress != nil {
		progress = mpb.New(mpb.WithOutput(d.Progress), mpb.WithWidth(40))
		bar = progress.AddBar(int64(len(jobs)),
			mpb.PrependDecorators(
				decor.Name(d.Tag, decor.WCSyncSpaceR),
				decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
			),
		)
	}

	results := make([]Result, len(jobs))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, job := range jobs {
		i, job := i, job
		results[i].Job = job
		g.Go(func() error {
			path := filepath.Join(d.Dir, job.Path)
			d.Log.Info("running fallback tool", "tool", d.Tag, "path", path)
			code, err := d.Runner.Run(ctx, path, d.LogPath(job))
			results[i].ExitCode, results[i].Err = code, err
			if bar != nil {
				bar.Increment()
			}
			return nil
		})
	}
	g.Wait()
	if progress != nil {
		progress.Wait()
	}
	return results
}
