package syncer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/APTlantis/http-tree-mirror/internal/listing"
)

func row(name, size, date string) string {
	return fmt.Sprintf(`<tr><td class="link"><a href="%s">%s</a></td><td class="size">%s</td><td class="date">%s</td></tr>`, name, name, size, date)
}

func indexPage(rows ...string) string {
	body := "<html><body><table><tbody>"
	body += row("../", "-", "&nbsp;")
	for _, r := range rows {
		body += r
	}
	body += "</tbody></table></body></html>"
	return body
}

const fileMTime = "2024-01-01 00:00:00"

func newFakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Last-Modified", "Mon, 01 Jan 2024 00:00:00 GMT")
			return
		}
		w.Write([]byte(indexPage(row("a/", "-", "2024-01-01 00:00:00"), row("b.txt", "10", fileMTime))))
	})
	mux.HandleFunc("/a/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(indexPage(row("c.txt", "3", fileMTime))))
	})
	mux.HandleFunc("/b.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", "Mon, 01 Jan 2024 00:00:00 GMT")
		w.Write([]byte("0123456789"))
	})
	mux.HandleFunc("/a/c.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", "Mon, 01 Jan 2024 00:00:00 GMT")
		w.Write([]byte("abc"))
	})
	return httptest.NewServer(mux)
}

func baseConfig(t *testing.T, upstream, localRoot string) Config {
	t.Helper()
	return Config{
		UpstreamURL: upstream + "/",
		LocalRoot:   localRoot,
		Threads:     2,
		Retry:       2,
		MaxDelete:   1000,
		Parser:      listing.NginxFancyIndexParser{},
	}
}

// TestS1FirstSync exercises scenario S1: first sync exits 0, fetches both
// files and leaves no temporary files behind.
func TestS1FirstSync(t *testing.T) {
	srv := newFakeUpstream(t)
	defer srv.Close()
	root := t.TempDir()

	result, err := Run(context.Background(), baseConfig(t, srv.URL, root))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ExitCode != ExitSuccess {
		t.Fatalf("exit code = %d, want 0", result.ExitCode)
	}

	for _, want := range []string{"b.txt", filepath.Join("a", "c.txt")} {
		if _, err := os.Stat(filepath.Join(root, want)); err != nil {
			t.Fatalf("expected %s to exist: %v", want, err)
		}
	}
	matches, _ := filepath.Glob(filepath.Join(root, "**", ".tmp.*"))
	if len(matches) != 0 {
		t.Fatalf("leftover temp files: %v", matches)
	}
}

// TestS2NoopSecondSync exercises scenario S2: rerunning against an unchanged
// upstream leaves the local tree untouched and deletes nothing, since every
// local mtime already matches the remote listing.
func TestS2NoopSecondSync(t *testing.T) {
	srv := newFakeUpstream(t)
	defer srv.Close()
	root := t.TempDir()

	cfg := baseConfig(t, srv.URL, root)
	if _, err := Run(context.Background(), cfg); err != nil {
		t.Fatalf("first run: %v", err)
	}

	firstB, err := os.Stat(filepath.Join(root, "b.txt"))
	if err != nil {
		t.Fatalf("stat b.txt after first run: %v", err)
	}

	result, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if result.ExitCode != ExitSuccess {
		t.Fatalf("exit code = %d, want 0", result.ExitCode)
	}
	if result.Deletions != 0 {
		t.Fatalf("deletions = %d, want 0", result.Deletions)
	}

	secondB, err := os.Stat(filepath.Join(root, "b.txt"))
	if err != nil {
		t.Fatalf("stat b.txt after second run: %v", err)
	}
	if !secondB.ModTime().Equal(firstB.ModTime()) {
		t.Fatalf("b.txt mtime changed across no-op rerun: %v -> %v", firstB.ModTime(), secondB.ModTime())
	}
}

// TestS3UpstreamRemoval exercises scenario S3: a stray local file not
// present upstream is deleted by the post-crawl sweep.
func TestS3UpstreamRemoval(t *testing.T) {
	srv := newFakeUpstream(t)
	defer srv.Close()
	root := t.TempDir()

	if err := os.WriteFile(filepath.Join(root, "stale.bin"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := Run(context.Background(), baseConfig(t, srv.URL, root))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ExitCode != ExitSuccess {
		t.Fatalf("exit code = %d, want 0", result.ExitCode)
	}
	if _, err := os.Stat(filepath.Join(root, "stale.bin")); !os.IsNotExist(err) {
		t.Fatalf("stale.bin should have been deleted, stat err = %v", err)
	}
	if result.Deletions != 1 {
		t.Fatalf("deletions = %d, want 1", result.Deletions)
	}
}

// TestS4ListingFailure exercises scenario S4: the root listing fails on
// every retry, so no downloads or deletions happen and exit code is 1.
func TestS4ListingFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "stale.bin"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := baseConfig(t, srv.URL, root)
	cfg.Retry = 1

	result, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ExitCode != ExitListingFailure {
		t.Fatalf("exit code = %d, want %d", result.ExitCode, ExitListingFailure)
	}
	if !result.FailureListing {
		t.Fatal("expected FailureListing to be set")
	}
	if _, err := os.Stat(filepath.Join(root, "stale.bin")); err != nil {
		t.Fatalf("stale.bin should not have been deleted: %v", err)
	}
}

// TestS5DeleteCap exercises scenario S5: hitting max_delete aborts with
// exit code 25 after deleting exactly the capped count.
func TestS5DeleteCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(indexPage()))
	}))
	defer srv.Close()
	root := t.TempDir()
	for i := 0; i < 150; i++ {
		if err := os.WriteFile(filepath.Join(root, fmt.Sprintf("f%d.bin", i)), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := baseConfig(t, srv.URL, root)
	cfg.MaxDelete = 100

	result, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ExitCode != ExitDeletionCapHit {
		t.Fatalf("exit code = %d, want %d", result.ExitCode, ExitDeletionCapHit)
	}
	if result.Deletions != 100 {
		t.Fatalf("deletions = %d, want 100", result.Deletions)
	}
}

// TestS6ExcludeInclude exercises scenario S6: an exclude pattern prunes a
// directory except for a more specific include pattern anchored deeper
// inside it, which must still be discovered and downloaded.
func TestS6ExcludeInclude(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(indexPage(row("heavy/", "-", fileMTime))))
	})
	mux.HandleFunc("/heavy/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(indexPage(row("keep/", "-", fileMTime), row("skip.bin", "3", fileMTime))))
	})
	mux.HandleFunc("/heavy/keep/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(indexPage(row("wanted.bin", "6", fileMTime))))
	})
	mux.HandleFunc("/heavy/skip.bin", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", "Mon, 01 Jan 2024 00:00:00 GMT")
		w.Write([]byte("skp"))
	})
	mux.HandleFunc("/heavy/keep/wanted.bin", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", "Mon, 01 Jan 2024 00:00:00 GMT")
		w.Write([]byte("wanted"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	root := t.TempDir()

	cfg := baseConfig(t, srv.URL, root)
	cfg.Exclude = []string{`^heavy/`}
	cfg.Include = []string{`^heavy/keep/`}

	result, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ExitCode != ExitSuccess {
		t.Fatalf("exit code = %d, want 0", result.ExitCode)
	}

	if _, err := os.Stat(filepath.Join(root, "heavy", "keep", "wanted.bin")); err != nil {
		t.Fatalf("expected heavy/keep/wanted.bin to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "heavy", "skip.bin")); !os.IsNotExist(err) {
		t.Fatalf("heavy/skip.bin should not have been downloaded, stat err = %v", err)
	}
}

// TestS7RedirectAsSymlink exercises scenario S7: a directory redirect is
// mirrored as a symlink instead of being recursed into.
func TestS7RedirectAsSymlink(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(indexPage(row("alias/", "-", fileMTime))))
	})
	mux.HandleFunc("/alias/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/target/", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	root := t.TempDir()

	result, err := Run(context.Background(), baseConfig(t, srv.URL, root))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ExitCode != ExitSuccess {
		t.Fatalf("exit code = %d, want 0", result.ExitCode)
	}
	info, err := os.Lstat(filepath.Join(root, "alias"))
	if err != nil {
		t.Fatalf("expected symlink alias: %v", err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Fatalf("alias should be a symlink, mode = %v", info.Mode())
	}
	linkTarget, err := os.Readlink(filepath.Join(root, "alias"))
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if linkTarget != "target" {
		t.Fatalf("symlink target = %q, want %q", linkTarget, "target")
	}
}
