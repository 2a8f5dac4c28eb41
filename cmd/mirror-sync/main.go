package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/APTlantis/http-tree-mirror/internal/httpclient"
	"github.com/APTlantis/http-tree-mirror/internal/listing"
	"github.com/APTlantis/http-tree-mirror/internal/progress"
	"github.com/APTlantis/http-tree-mirror/internal/syncer"
	"github.com/APTlantis/http-tree-mirror/internal/telemetry"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "sync":
		runSync(os.Args[2:])
	case "list":
		runList(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: mirror-sync <sync|list> [options]")
}

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func runSync(args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)

	var (
		upstreamURL   = fs.String("url", "", "Upstream index URL to mirror (required)")
		localRoot     = fs.String("out", "", "Local directory to mirror into (required)")
		dryRun        = fs.Bool("dry-run", false, "Report what would change without writing or deleting anything")
		threads       = fs.Int("threads", 2, "Number of worker goroutines")
		noDelete      = fs.Bool("no-delete", false, "Never remove local files missing upstream")
		maxDelete     = fs.Int("max-delete", 1000, "Abort the deletion sweep after this many removals (0=unlimited)")
		retry         = fs.Int("retry", 5, "HTTP retry attempts for transient failures")
		headBeforeGet = fs.Bool("head-before-get", false, "Issue a HEAD request before every GET to re-check freshness")
		allowMtime    = fs.Bool("allow-mtime-from-parser", false, "Fall back to the listing page's naive timestamp when a download has no Last-Modified header")
		parserName    = fs.String("parser", "nginx-fancyindex", "Listing page parser to use")
		tzHours       = fs.Int("timezone", 0, "Fixed UTC offset in hours for naive listing timestamps")
		tzFileURL     = fs.String("timezone-file", "", "URL of a file with a known Last-Modified header, used to infer the upstream's timezone")
		userAgent     = fs.String("user-agent", "mirror-sync/1.0", "User-Agent header sent on every request")
		bindAddress   = fs.String("bind-address", "", "Local address to bind outgoing HTTP connections to")
		logFormat     = fs.String("log-format", "text", "Logging format: text|json")
		logLevel      = fs.String("log-level", "info", "Logging level: debug|info|warn|error")
		listenAddr    = fs.String("listen", "", "Serve Prometheus metrics and pprof at this address (e.g., :9090)")
		progressFlag  = fs.String("progress", "auto", "Progress rendering: auto|bars|log|none")
		aptPackages   = fs.Bool("apt-packages", false, "Expand downloaded APT Packages(.gz) indices into per-package download tasks")
		yumPackages   = fs.Bool("yum-packages", false, "Expand downloaded YUM repomd.xml/primary.xml.gz into per-package download tasks")
		writeSidecars = fs.Bool("write-sidecars", false, "Write a JSON sidecar file next to every package synthesized by -apt-packages/-yum-packages")
	)
	var (
		excludePatterns         stringList
		includePatterns         stringList
		skipIfExistsPatterns    stringList
		compareSizeOnlyPatterns stringList
	)
	fs.Var(&excludePatterns, "exclude", "Regex of relative paths to exclude (repeatable)")
	fs.Var(&includePatterns, "include", "Regex of relative paths to re-include after an -exclude match (repeatable)")
	fs.Var(&skipIfExistsPatterns, "skip-if-exists", "Regex of relative paths to skip re-downloading once present locally (repeatable)")
	fs.Var(&compareSizeOnlyPatterns, "compare-size-only", "Regex of local paths to freshness-check by size alone, ignoring mtime (repeatable)")

	fs.Parse(args)
	if *upstreamURL == "" && fs.NArg() > 0 {
		*upstreamURL = fs.Arg(0)
	}
	if *localRoot == "" && fs.NArg() > 1 {
		*localRoot = fs.Arg(1)
	}

	if *upstreamURL == "" || *localRoot == "" {
		fmt.Fprintln(os.Stderr, "mirror-sync sync: an upstream URL and a local path are required (positional <UPSTREAM_URL> <LOCAL_PATH>, or -url and -out)")
		fs.PrintDefaults()
		os.Exit(2)
	}

	configureLogging(*logFormat, *logLevel)

	if *listenAddr != "" {
		telemetry.StartServer(*listenAddr)
	}

	parser, err := resolveParser(*parserName)
	if err != nil {
		slog.Error("unknown parser", "name", *parserName, "err", err)
		os.Exit(2)
	}

	var timezoneHours *int
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "timezone" {
			v := *tzHours
			timezoneHours = &v
		}
	})

	reporter := resolveReporter(*progressFlag)

	cfg := syncer.Config{
		UpstreamURL:          *upstreamURL,
		LocalRoot:            *localRoot,
		Threads:              *threads,
		DryRun:               *dryRun,
		NoDelete:             *noDelete,
		MaxDelete:            *maxDelete,
		Retry:                *retry,
		HeadBeforeGet:        *headBeforeGet,
		AllowMtimeFromParser: *allowMtime,
		Parser:               parser,
		TimezoneHours:        timezoneHours,
		TimezoneFileURL:      *tzFileURL,
		UserAgent:            *userAgent,
		BindAddress:          *bindAddress,
		Exclude:              excludePatterns,
		Include:              includePatterns,
		SkipIfExists:         skipIfExistsPatterns,
		CompareSizeOnly:      compareSizeOnlyPatterns,
		AptPackages:          *aptPackages,
		YumPackages:          *yumPackages,
		WriteSidecars:        *writeSidecars,
		Progress:             reporter,
	}

	result, err := syncer.Run(context.Background(), cfg)
	if err != nil {
		slog.Error("sync failed to start", "err", err)
		os.Exit(2)
	}

	slog.Info("sync complete",
		"objects", result.Objects,
		"estimated_bytes", result.EstimatedBytes,
		"deletions", result.Deletions,
		"exit_code", result.ExitCode,
	)
	os.Exit(result.ExitCode)
}

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	var (
		upstreamURL = fs.String("url", "", "Index URL to list (required)")
		parserName  = fs.String("parser", "nginx-fancyindex", "Listing page parser to use")
	)
	fs.Parse(args)
	if *upstreamURL == "" && fs.NArg() > 0 {
		*upstreamURL = fs.Arg(0)
	}

	if *upstreamURL == "" {
		fmt.Fprintln(os.Stderr, "mirror-sync list: an upstream URL is required (positional <UPSTREAM_URL>, or -url)")
		fs.PrintDefaults()
		os.Exit(2)
	}

	configureLogging("text", "info")

	parser, err := resolveParser(*parserName)
	if err != nil {
		slog.Error("unknown parser", "name", *parserName, "err", err)
		os.Exit(2)
	}

	client := defaultListClient()
	result, err := parser.GetList(context.Background(), client, *upstreamURL)
	if err != nil {
		slog.Error("list failed", "err", err)
		os.Exit(1)
	}
	if result.IsRedirect() {
		fmt.Printf("redirect -> %s\n", result.Redirect)
		return
	}
	for _, item := range result.Items {
		kind := "file"
		if item.Type == listing.Directory {
			kind = "dir"
		}
		fmt.Printf("%-4s %10d  %s\n", kind, item.Size.EstimatedBytes(), item.Name)
	}
}

func defaultListClient() *httpclient.Client {
	return httpclient.New(httpclient.Config{
		UserAgent:       "mirror-sync/1.0",
		FollowRedirects: false,
		Retries:         3,
	})
}

func resolveParser(name string) (listing.Parser, error) {
	switch strings.ToLower(name) {
	case "nginx-fancyindex", "":
		return listing.NginxFancyIndexParser{}, nil
	default:
		return nil, fmt.Errorf("no such parser %q", name)
	}
}

func resolveReporter(mode string) progress.Reporter {
	switch strings.ToLower(mode) {
	case "bars":
		mb, err := progress.NewMultiBar()
		if err != nil {
			slog.Warn("failed to start progress bars, falling back to log reporter", "err", err)
			return progress.LogReporter{}
		}
		return mb
	case "log":
		return progress.LogReporter{}
	case "none":
		return progress.LogReporter{}
	case "auto":
		fallthrough
	default:
		if term.IsTerminal(int(os.Stderr.Fd())) {
			if mb, err := progress.NewMultiBar(); err == nil {
				return mb
			}
		}
		return progress.LogReporter{}
	}
}

func configureLogging(format, level string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error", "err":
		lvl = slog.LevelError
	}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
}
