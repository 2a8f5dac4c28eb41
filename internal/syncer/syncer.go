// Package syncer is the driver that wires the listing parser, freshness
// comparator, exclusion matcher, shadow-set registry, extension expander and
// scheduler together into one sync run, ported from original_source's
// sync_threads/sync pair in src/cli/sync.rs.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/APTlantis/http-tree-mirror/internal/compare"
	"github.com/APTlantis/http-tree-mirror/internal/exclude"
	"github.com/APTlantis/http-tree-mirror/internal/extensions"
	"github.com/APTlantis/http-tree-mirror/internal/httpclient"
	"github.com/APTlantis/http-tree-mirror/internal/listing"
	"github.com/APTlantis/http-tree-mirror/internal/progress"
	"github.com/APTlantis/http-tree-mirror/internal/scheduler"
	"github.com/APTlantis/http-tree-mirror/internal/shadowset"
	"github.com/APTlantis/http-tree-mirror/internal/stats"
	"github.com/APTlantis/http-tree-mirror/internal/telemetry"
	"github.com/APTlantis/http-tree-mirror/internal/tzresolve"
)

// Exit codes, per the driver's ordered-checks contract: later assignments in
// Run's check order win over earlier ones.
const (
	ExitSuccess         = 0
	ExitListingFailure  = 1
	ExitDownloadFailure = 2
	ExitDeletionIOError = 4
	ExitDeletionCapHit  = 25
)

// Config is every knob the sync CLI surface exposes.
type Config struct {
	UpstreamURL string
	LocalRoot   string

	Threads  int
	DryRun   bool
	NoDelete bool

	MaxDelete int
	Retry     int

	HeadBeforeGet        bool
	AllowMtimeFromParser bool

	Parser listing.Parser

	TimezoneHours   *int
	TimezoneFileURL string

	UserAgent   string
	BindAddress string

	Exclude         []string
	Include         []string
	SkipIfExists    []string
	CompareSizeOnly []string

	AptPackages   bool
	YumPackages   bool
	WriteSidecars bool

	Progress progress.Reporter
}

// Result summarizes one completed run.
type Result struct {
	ExitCode           int
	Objects            int64
	EstimatedBytes     int64
	Deletions          int
	FailureListing     bool
	FailureDownloading bool
}

// Run executes one full sync: crawl, download, then the post-crawl deletion
// sweep, returning the exit code per the driver's ordered-checks contract.
// The only errors Run itself returns are configuration errors, detected
// before the pool starts; per-task failures are reflected in Result instead.
func Run(ctx context.Context, cfg Config) (Result, error) {
	if cfg.UpstreamURL == "" || cfg.LocalRoot == "" {
		return Result{}, errors.New("syncer: upstream url and local root are required")
	}
	if cfg.Parser == nil {
		return Result{}, errors.New("syncer: a listing parser is required")
	}
	threads := cfg.Threads
	if threads < 1 {
		threads = 2
	}

	exclRe, err := compilePatterns(cfg.Exclude)
	if err != nil {
		return Result{}, fmt.Errorf("syncer: compile --exclude: %w", err)
	}
	inclRe, err := compilePatterns(cfg.Include)
	if err != nil {
		return Result{}, fmt.Errorf("syncer: compile --include: %w", err)
	}
	skipIfExistsRe, err := compilePatterns(cfg.SkipIfExists)
	if err != nil {
		return Result{}, fmt.Errorf("syncer: compile --skip-if-exists: %w", err)
	}
	compareSizeOnlyRe, err := compilePatterns(cfg.CompareSizeOnly)
	if err != nil {
		return Result{}, fmt.Errorf("syncer: compile --compare-size-only: %w", err)
	}

	reporter := cfg.Progress
	if reporter == nil {
		reporter = progress.LogReporter{}
	}

	// The parser needs to observe redirects as directory aliases, so the
	// client never follows them automatically.
	client := httpclient.New(httpclient.Config{
		UserAgent:       cfg.UserAgent,
		FollowRedirects: false,
		Retries:         cfg.Retry,
		BindAddress:     cfg.BindAddress,
	})

	tz := tzresolve.Resolve(ctx, client, cfg.Parser, tzresolve.Options{
		OffsetHours: cfg.TimezoneHours,
		ProbeURL:    cfg.TimezoneFileURL,
		UpstreamURL: cfg.UpstreamURL,
	})

	if !cfg.DryRun {
		if err := os.MkdirAll(cfg.LocalRoot, 0o755); err != nil {
			return Result{}, fmt.Errorf("syncer: create local root: %w", err)
		}
	}

	rc := &runContext{
		cfg:             cfg,
		client:          client,
		excl:            exclude.New(exclRe, inclRe),
		skipIfExists:    skipIfExistsRe,
		compareSizeOnly: compareSizeOnlyRe,
		shadow:          shadowset.New(),
		stats:           &stats.Counters{},
		tz:              tz,
		reporter:        reporter,
	}

	pool := scheduler.NewPool(threads)
	pool.Seed(scheduler.Task{Kind: scheduler.Listing, Relative: nil, URL: cfg.UpstreamURL})

	pool.Run(func(worker int, task scheduler.Task, push scheduler.Push) {
		rc.handle(ctx, task, push)
	})

	reporter.Close()

	result := Result{
		Objects:            rc.stats.Objects(),
		EstimatedBytes:     rc.stats.EstimatedSize(),
		FailureListing:     rc.failureListing.Load(),
		FailureDownloading: rc.failureDownloading.Load(),
	}

	exitCode := ExitSuccess
	if result.FailureListing {
		slog.Error("failed to list remote, not deleting anything")
		exitCode = ExitListingFailure
	} else {
		deletions, delErr := rc.sweepDeletions(ctx)
		result.Deletions = deletions.count
		if delErr != nil {
			exitCode = ExitDeletionIOError
		} else if deletions.capHit {
			exitCode = ExitDeletionCapHit
		}
	}
	if result.FailureDownloading {
		exitCode = ExitDownloadFailure
	}
	result.ExitCode = exitCode

	slog.Info("sync finished", "exit_code", exitCode, "summary", rc.stats.Summary(), "deletions", result.Deletions)
	return result, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

type runContext struct {
	cfg             Config
	client          *httpclient.Client
	excl            *exclude.Manager
	skipIfExists    []*regexp.Regexp
	compareSizeOnly []*regexp.Regexp
	shadow          *shadowset.Set
	stats           *stats.Counters
	tz              *time.Location
	reporter        progress.Reporter

	failureListing     atomic.Bool
	failureDownloading atomic.Bool
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func (rc *runContext) handle(ctx context.Context, task scheduler.Task, push scheduler.Push) {
	relativeJoined := strings.Join(task.Relative, "/")
	cwd := filepath.Join(append([]string{rc.cfg.LocalRoot}, task.Relative...)...)

	// This is the cheap, directory-level check: it only decides whether the
	// containing directory's subtree is pruned entirely. Exclude/include
	// patterns anchor directory paths with a trailing slash (e.g.
	// "^heavy/keep/"), so the match target needs one even though
	// task.Relative never carries it. The authoritative, file-level check
	// happens later in handleDownload against the file's own full path.
	dirTarget := relativeJoined
	if dirTarget != "" {
		dirTarget += "/"
	}
	if rc.excl.MatchDir(dirTarget) == exclude.Stop {
		slog.Info("skipping excluded path", "path", relativeJoined)
		return
	}

	switch task.Kind {
	case scheduler.Listing:
		rc.handleListing(ctx, task, cwd, push)
	case scheduler.Download:
		rc.handleDownload(ctx, task, cwd, push)
	}
}

func (rc *runContext) handleListing(ctx context.Context, task scheduler.Task, cwd string, push scheduler.Push) {
	rc.shadow.Insert(cwd)

	if len(task.Relative) > 0 && isSymlink(cwd) {
		slog.Info("path is a symlink, treated as an already-resolved alias", "path", cwd)
		return
	}

	slog.Info("listing", "url", task.URL)
	result, err := rc.cfg.Parser.GetList(ctx, rc.client, task.URL)
	if err != nil {
		slog.Error("failed to list", "url", task.URL, "err", err)
		rc.failureListing.Store(true)
		return
	}

	if result.IsRedirect() {
		rc.handleListingRedirect(task, cwd, result.Redirect)
		return
	}

	for _, item := range result.Items {
		rc.stats.AddObject()
		childRelative := append(append([]string(nil), task.Relative...), item.Name)
		if item.Type == listing.Directory {
			push(scheduler.Task{Kind: scheduler.Listing, Relative: childRelative, URL: item.URL})
			continue
		}
		// The file's own full path is checked authoritatively in
		// handleDownload; pushing unconditionally here lets a deeper include
		// pull a file back in even when this directory's own verdict is
		// list-only.
		push(scheduler.Task{Kind: scheduler.Download, Item: item, Relative: task.Relative, URL: item.URL})
		rc.stats.AddEstimatedSize(item.Size.EstimatedBytes())
	}
	rc.reporter.SetAggregate(rc.stats.Objects(), rc.stats.EstimatedSize())
}

func (rc *runContext) handleListingRedirect(task scheduler.Task, cwd, target string) {
	slog.Info("redirected, creating symlink", "url", task.URL, "target", target)
	if _, err := os.Lstat(cwd); err == nil {
		slog.Warn("skipping symlink creation: path already exists", "path", cwd)
		return
	}
	targetName := lastPathSegment(target)
	if targetName == "" {
		slog.Error("failed to get last segment of redirect target", "target", target)
		return
	}
	if err := os.Symlink(targetName, cwd); err != nil {
		slog.Error("failed to create symlink", "path", cwd, "target", targetName, "err", err)
	}
}

func isSymlink(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode()&os.ModeSymlink != 0
}

func lastPathSegment(rawURL string) string {
	trimmed := strings.TrimSuffix(rawURL, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return trimmed
	}
	return trimmed[idx+1:]
}

func (rc *runContext) handleDownload(ctx context.Context, task scheduler.Task, cwd string, push scheduler.Push) {
	item, ok := task.Item.(listing.Item)
	if !ok {
		slog.Error("download task missing listing item", "url", task.URL)
		return
	}

	if !rc.cfg.DryRun {
		if err := os.MkdirAll(cwd, 0o755); err != nil {
			slog.Error("failed to create directory", "path", cwd, "err", err)
			rc.failureDownloading.Store(true)
			return
		}
	}

	expectedPath := filepath.Join(cwd, item.Name)
	if !rc.shadow.Insert(expectedPath) {
		slog.Info("skipping already-claimed path", "path", expectedPath)
		return
	}

	relativeFile := strings.Join(append(append([]string(nil), task.Relative...), item.Name), "/")
	if rc.excl.Match(relativeFile) == exclude.Stop {
		slog.Info("skipping excluded file", "path", relativeFile)
		return
	}

	skipIfExists := matchesAny(rc.skipIfExists, relativeFile)
	compareSizeOnly := matchesAny(rc.compareSizeOnly, expectedPath)

	shouldDownload := compare.ShouldDownloadByList(expectedPath, item, rc.tz, skipIfExists, rc.cfg.AllowMtimeFromParser)
	if !shouldDownload {
		slog.Info("skipping, local copy is fresh", "url", task.URL)
		return
	}

	if rc.cfg.HeadBeforeGet {
		resp, err := rc.client.Head(ctx, item.URL)
		if err != nil {
			slog.Error("failed to HEAD", "url", item.URL, "err", err)
			rc.failureDownloading.Store(true)
			return
		}
		if !compare.ShouldDownloadByHead(expectedPath, resp, compareSizeOnly) {
			slog.Info("skipping (by HEAD)", "url", task.URL)
			return
		}
	}

	if rc.cfg.DryRun {
		slog.Info("dry run, not downloading", "url", task.URL)
		return
	}

	if err := rc.download(ctx, item, cwd, expectedPath, task); err != nil {
		slog.Error("failed to download", "url", item.URL, "err", err)
		rc.failureDownloading.Store(true)
		return
	}

	packages, err := extensions.Handle(extensions.Options{AptPackages: rc.cfg.AptPackages, YumPackages: rc.cfg.YumPackages}, expectedPath, task.Relative, item.URL)
	if err != nil {
		slog.Warn("extension parsing failed", "path", expectedPath, "err", err)
		return
	}
	for _, p := range packages {
		pkgItem := listing.Item{URL: p.URL, Name: p.Filename, Type: listing.File, SkipCheck: true}
		push(scheduler.Task{Kind: scheduler.Download, Item: pkgItem, Relative: p.Relative, URL: p.URL})
		if rc.cfg.WriteSidecars {
			dir := filepath.Join(append([]string{rc.cfg.LocalRoot}, p.Relative...)...)
			if err := extensions.WriteSidecar(dir, p); err != nil {
				slog.Warn("failed to write sidecar", "package", p.Filename, "err", err)
			} else {
				rc.shadow.Insert(filepath.Join(dir, p.Filename+".json"))
			}
		}
	}
}

func (rc *runContext) download(ctx context.Context, item listing.Item, cwd, expectedPath string, task scheduler.Task) error {
	resp, err := rc.client.GetStream(ctx, item.URL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	mtime, ok := mtimeFromResponse(resp)
	if !ok {
		if !rc.cfg.AllowMtimeFromParser {
			return fmt.Errorf("no Last-Modified header and --allow-mtime-from-parser is not set")
		}
		mtime = naiveToAbsolute(item.MTime, rc.tz)
	}

	tmpPath := filepath.Join(cwd, ".tmp."+item.Name)
	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	handle := rc.reporter.StartDownload(item.URL, resp.ContentLength)
	written, copyErr := io.Copy(f, progressReader{r: resp.Body, handle: handle})
	handle.Done()
	closeErr := f.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return copyErr
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return closeErr
	}

	if err := os.Chtimes(tmpPath, mtime, mtime); err != nil {
		slog.Warn("failed to set mtime", "path", tmpPath, "err", err)
	}
	if err := os.Rename(tmpPath, expectedPath); err != nil {
		os.Remove(tmpPath)
		return err
	}

	telemetry.BytesDownloaded.Add(float64(written))
	telemetry.Downloads.WithLabelValues("ok").Inc()
	return nil
}

type progressReader struct {
	r      io.Reader
	handle progress.DownloadHandle
}

func (p progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.handle.Add(int64(n))
	}
	return n, err
}

func mtimeFromResponse(resp *http.Response) (time.Time, bool) {
	lm := resp.Header.Get("Last-Modified")
	if lm == "" {
		return time.Time{}, false
	}
	t, err := http.ParseTime(lm)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func naiveToAbsolute(naive time.Time, tz *time.Location) time.Time {
	if tz == nil {
		tz = time.UTC
	}
	return time.Date(naive.Year(), naive.Month(), naive.Day(), naive.Hour(), naive.Minute(), naive.Second(), naive.Nanosecond(), tz)
}

type deletionOutcome struct {
	count  int
	capHit bool
}

// sweepDeletions walks the local tree contents-first and deletes anything
// not present in the shadow set, honoring no_delete and max_delete.
func (rc *runContext) sweepDeletions(ctx context.Context) (deletionOutcome, error) {
	if rc.cfg.DryRun {
		return deletionOutcome{}, nil
	}

	var paths []string
	err := filepath.WalkDir(rc.cfg.LocalRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return deletionOutcome{}, nil
		}
		slog.Error("failed to walk local tree", "err", err)
		return deletionOutcome{}, err
	}

	// WalkDir visits parents before children; reversing gives contents-first
	// order, mirroring walkdir::WalkDir's contents_first(true).
	var outcome deletionOutcome
	for i := len(paths) - 1; i >= 0; i-- {
		p := paths[i]
		if p == rc.cfg.LocalRoot {
			continue
		}
		if rc.shadow.Contains(p) {
			continue
		}
		if rc.cfg.NoDelete {
			slog.Info("not in remote (no-delete set)", "path", p)
			continue
		}
		if info, statErr := os.Lstat(p); statErr == nil && info.IsDir() {
			if entries, readErr := os.ReadDir(p); readErr == nil && len(entries) > 0 {
				slog.Info("not in remote, leaving non-empty directory", "path", p)
				continue
			}
		}
		if outcome.count >= rc.cfg.MaxDelete && rc.cfg.MaxDelete > 0 {
			slog.Info("exceeding max delete count, aborting")
			outcome.capHit = true
			break
		}
		outcome.count++

		if _, statErr := os.Lstat(p); statErr != nil {
			continue
		}
		slog.Info("deleting", "path", p)
		if delErr := os.Remove(p); delErr != nil {
			slog.Error("failed to remove", "path", p, "err", delErr)
			telemetry.Deletions.WithLabelValues("error").Inc()
			return outcome, delErr
		}
		telemetry.Deletions.WithLabelValues("ok").Inc()
	}
	return outcome, nil
}
