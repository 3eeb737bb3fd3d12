package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	omt "github.com/ssut/omt-dumper-go"
)

func main() {
	var (
		opts    omt.Options
		verbose int
	)

	pflag.BoolVarP(&opts.NoFallback, "no-fallback", "E", false, "Do not run the fallback tool to finish extraction")
	pflag.StringVarP(&opts.OutputDir, "output", "o", omt.DefaultOutputDir, "Set output directory")
	pflag.BoolVarP(&opts.ListOnly, "list", "l", false, "Only list content, no extraction")
	pflag.CountVarP(&verbose, "verbose", "v", "Verbose logging (repeat for more)")
	pflag.IntVarP(&opts.Jobs, "jobs", "j", omt.DefaultJobs(), "Number of concurrent fallback tool instances")
	pflag.StringVar(&opts.Tool, "tool", omt.DefaultTool, "Fallback binary analysis tool")
	pflag.StringSliceVar(&opts.ToolArgs, "tool-args", omt.DefaultToolArgs, "Arguments passed to the fallback tool before the file path")
	pflag.DurationVar(&opts.ToolTimeout, "tool-timeout", 0, "Kill a fallback tool instance after this long (0 = no limit)")
	pflag.Usage = usage
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
	}
	opts.SourceDir = pflag.Arg(0)
	if err := opts.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		usage()
	}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		opts.Progress = os.Stderr
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: omt.LogLevel(verbose)}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	stats, err := omt.NewExtractor(opts, logger).Run(ctx)
	if err != nil {
		log.Fatalf("Error processing upgrade directory: %v", err)
	}
	stats.Print(os.Stdout)

	if !opts.ListOnly {
		fmt.Printf("\ndone, extracted %d files to %s in %s\n", stats.Extracted, stats.ExtractDir, time.Since(start).Round(time.Millisecond))
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options] <upgrade_directory>\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Extractor for Upgrade Packages in OMT format\n\nOptions:\n")
	pflag.PrintDefaults()
	os.Exit(2)
}
