package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/serdar/apiflow/internal/config"
	"github.com/serdar/apiflow/internal/core/history"
	"github.com/serdar/apiflow/internal/runner"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "run":
			runCmd()
			return
		case "history":
			historyCmd()
			return
		case "version":
			fmt.Printf("apiflow %s\n", version)
			return
		case "help":
			printHelp()
			return
		}
	}
	printHelp()
	os.Exit(2)
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `apiflow - scriptable HTTP request runner

Usage:
  apiflow run <request.yaml> [flags]   Run a request definition
  apiflow history [flags]              List or search past runs
  apiflow version                      Print version information
  apiflow help                         Show this help message

Definitions can carry pre_script and post_script JavaScript that mutates the
request and shared state through the af.* API before and after the call.
`)
}

func runCmd() {
	cfg := config.Load()

	fs := flag.NewFlagSet("run", flag.ExitOnError)
	outputFlag := fs.String("output", "text", "Output format: text, json")
	verboseFlag := fs.Bool("verbose", false, "Show response body, mutations and redirects")
	timeoutFlag := fs.Duration("timeout", cfg.RequestTimeout, "Request timeout")
	stateFlag := fs.String("state", cfg.StatePath, "Path to the shared-state database (empty disables persistence)")
	proxyFlag := fs.String("proxy", cfg.ProxyURL, "Proxy URL (http, https or socks5)")
	debugFlag := fs.Bool("debug", false, "Enable debug logging")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: apiflow run <request.yaml> [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}
	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: request definition path is required\n\n")
		fs.Usage()
		os.Exit(2)
	}

	switch *outputFlag {
	case "text", "json":
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid output format %q (must be text or json)\n", *outputFlag)
		os.Exit(2)
	}

	log := zap.NewNop()
	if *debugFlag {
		log, _ = zap.NewDevelopment()
	}
	defer log.Sync()

	r, err := runner.New(runner.Config{
		DefinitionPath:   fs.Arg(0),
		StatePath:        *stateFlag,
		HistoryPath:      cfg.HistoryPath,
		OutputFormat:     *outputFlag,
		Verbose:          *verboseFlag,
		Timeout:          *timeoutFlag,
		PreScriptTimeout: cfg.PreScriptTimeout,
		FollowRedirect:   cfg.FollowRedirect,
		MaxRedirects:     cfg.MaxRedirects,
		ProxyURL:         *proxyFlag,
		NoProxy:          cfg.NoProxy,
		TLS:              cfg.TLS,
	}, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	defer r.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	result, err := r.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if result.Duration == 0 {
		result.Duration = time.Since(start)
	}

	switch *outputFlag {
	case "json":
		if err := runner.PrintJSON(os.Stdout, result); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
	default:
		runner.PrintText(os.Stdout, result, *verboseFlag)
	}

	if result.Error != nil {
		os.Exit(1)
	}
}

func historyCmd() {
	cfg := config.Load()

	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limitFlag := fs.Int("n", 20, "Number of entries to show")
	searchFlag := fs.String("search", "", "Filter entries by URL substring")
	clearFlag := fs.Bool("clear", false, "Delete all history entries")
	pathFlag := fs.String("history", cfg.HistoryPath, "Path to the history database")

	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	store, err := history.Open(*pathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	defer store.Close()

	if *clearFlag {
		if err := store.Clear(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		return
	}

	var entries []history.Entry
	if *searchFlag != "" {
		entries, err = store.Search(*searchFlag)
	} else {
		entries, err = store.List(*limitFlag)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	for _, e := range entries {
		status := fmt.Sprintf("%d", e.StatusCode)
		if e.Error != "" {
			status = "error"
		}
		fmt.Printf("%s  %-6s %-5s %s  %s  %s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.Method, status, e.URL,
			e.Duration.Round(time.Millisecond),
			humanize.IBytes(uint64(e.Size)))
		if e.Error != "" {
			fmt.Printf("    %s\n", e.Error)
		}
	}
}
