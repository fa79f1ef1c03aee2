// imergfetch - Downloader for IMERG precipitation GeoTIFFs from the PPS archive
//
// Derives each file's remote path from a calendar date and fetches it over
// FTPS (IPv4 only). Daily, half-hourly and monthly products are supported.
//
// Build: CGO_ENABLED=0 go build -ldflags="-s -w" -o build/imergfetch ./cmd/imergfetch

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jgivc/imergfetch/internal/app"
	"github.com/jgivc/imergfetch/internal/config"
	"github.com/jgivc/imergfetch/internal/entity"
)

// Version can be overridden at build time via -ldflags
var Version = "0.1.0"

func main() {
	cfgFileName := flag.String("c", "", "Path to YAML config file")
	envFileName := flag.String("env", ".env", "Path to dotenv file with IMERG_USERNAME/IMERG_PASSWORD")
	startDate := flag.String("start", "", "First date (YYYY-MM-DD)")
	endDate := flag.String("end", "", "Last date, inclusive (YYYY-MM-DD, default: start)")
	kindName := flag.String("kind", "daily", "Product: daily, half-hourly or monthly")
	outDir := flag.String("dest", "", "Destination directory (overrides config)")
	workers := flag.Int("workers", 0, fmt.Sprintf("Parallel downloads, 1..%d (overrides config)", config.MaxWorkers))
	timeout := flag.Duration("timeout", 0, "Timeout per file (overrides config)")
	keepGoing := flag.Bool("continue", false, "Keep going after a failed day and report all failures")
	skipExisting := flag.Bool("skip-existing", false, "Skip files already present locally or in the ledger")
	listOnly := flag.Bool("list", false, "List remote paths without downloading")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "imergfetch v%s - IMERG Archive Downloader\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] -start YYYY-MM-DD [-end YYYY-MM-DD]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Downloads IMERG GeoTIFFs from %s.\n", config.HostFinal)
		fmt.Fprintf(os.Stderr, "Credentials are read from %s and %s.\n\n", config.EnvUsername, config.EnvPassword)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -start 2011-08-01                         # One daily file\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -start 2011-12-28 -end 2012-01-03 -workers 3\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -kind monthly -start 2011-01-01 -end 2011-12-31 -list\n", os.Args[0])
	}

	flag.Parse()

	if *startDate == "" {
		flag.Usage()
		os.Exit(2)
	}

	start, err := entity.ParseDate(*startDate)
	if err != nil {
		fail("Invalid start date: %v", err)
	}

	end := start
	if *endDate != "" {
		if end, err = entity.ParseDate(*endDate); err != nil {
			fail("Invalid end date: %v", err)
		}
	}

	kind, err := entity.ParseKind(*kindName)
	if err != nil {
		fail("%v", err)
	}

	cfg, err := config.Load(*cfgFileName, *envFileName)
	if err != nil {
		fail("%v", err)
	}

	if *outDir != "" {
		cfg.DownloadConfig.OutputDir = *outDir
	}
	if *workers != 0 {
		cfg.DownloadConfig.Workers = *workers
	}
	if *timeout != 0 {
		cfg.DownloadConfig.Timeout = *timeout
	}
	if *keepGoing {
		cfg.DownloadConfig.ContinueOnError = true
	}
	if *skipExisting {
		cfg.DownloadConfig.SkipExisting = true
	}
	if err := cfg.Validate(); err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, os.Stderr)
	if err != nil {
		fail("%v", err)
	}
	defer a.Close()

	if *listOnly {
		planned, err := a.Plan(kind, start, end)
		if err != nil {
			fail("%v", err)
		}

		fmt.Printf("IMERG %s files (%d):\n\n", kind, len(planned))
		for _, p := range planned {
			fmt.Printf("  %s -> %s\n", p.RemotePath, p.LocalName)
		}

		return
	}

	fmt.Println("=========================================================")
	fmt.Printf("IMERG Fetch v%s\n", Version)
	fmt.Println("=========================================================")
	fmt.Printf("Product:     %s\n", kind)
	fmt.Printf("Date Range:  %s to %s\n", start, end)
	fmt.Printf("Destination: %s\n", cfg.DownloadConfig.OutputDir)
	fmt.Printf("Workers:     %d parallel\n", cfg.DownloadConfig.Workers)
	fmt.Printf("Timeout:     %v per file\n", cfg.DownloadConfig.Timeout)
	fmt.Println()

	summary, err := a.Run(ctx, kind, start, end)
	if summary != nil {
		printSummary(summary)
		if n, ok := a.Recorded(context.WithoutCancel(ctx), summary.RunID); ok {
			fmt.Printf("Ledger:     %d files recorded for this run\n", n)
		}
		fmt.Println("=========================================================")
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Interrupted")
		}
		a.Close()
		fail("%v", err)
	}
}

func printSummary(s *entity.Summary) {
	fmt.Println()
	fmt.Println("=========================================================")
	fmt.Println("Download Summary")
	fmt.Println("=========================================================")
	fmt.Printf("Run:        %s\n", s.RunID)
	fmt.Printf("Downloaded: %d files (%.2f MB)\n", s.Completed(), float64(s.Bytes())/1024/1024)
	fmt.Printf("Skipped:    %d files (already exist)\n", s.Skipped())
	fmt.Printf("Failed:     %d files\n", s.Failed())
	for _, f := range s.Failures {
		fmt.Printf("  %s\n", f)
	}
	fmt.Printf("Aborted:    %d files (not attempted or cut short)\n", s.Aborted())
	fmt.Printf("Elapsed:    %v\n", s.Elapsed.Round(time.Second))
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
