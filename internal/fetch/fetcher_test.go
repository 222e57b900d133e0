package fetch

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/wheelforge/internal/builderr"
	"github.com/mattjoyce/wheelforge/internal/buildlog"
	"github.com/mattjoyce/wheelforge/internal/config"
)

// zipArchive builds an in-memory zip from path -> content pairs. Directory
// entries end in "/".
func zipArchive(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("zip Create(%s) error = %v", name, err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("zip Write(%s) error = %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip Close() error = %v", err)
	}
	return buf.Bytes()
}

func testFetcher(serverURL string) *Fetcher {
	f := New(config.SourceConfig{Owner: "microsoft", Repo: "DeepSpeed"}, buildlog.Discard{})
	f.BaseURL = serverURL
	return f
}

func TestArchiveURL(t *testing.T) {
	f := New(config.SourceConfig{Owner: "microsoft", Repo: "DeepSpeed"}, buildlog.Discard{})
	want := "https://github.com/microsoft/DeepSpeed/archive/v0.14.0.zip"
	if got := f.ArchiveURL("0.14.0"); got != want {
		t.Errorf("ArchiveURL() = %q, want %q", got, want)
	}
}

func TestFetchDownloadsExtractsAndPromotes(t *testing.T) {
	archive := zipArchive(t, map[string]string{
		"DeepSpeed-0.14.0/setup.py":          "print('setup')",
		"DeepSpeed-0.14.0/deepspeed/init.py": "",
		"DeepSpeed-0.14.0/csrc/adam.cpp":     "// kernel",
	})

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write(archive)
	}))
	defer srv.Close()

	ws := t.TempDir()
	f := testFetcher(srv.URL)
	if err := f.Fetch(context.Background(), "0.14.0", ws); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if gotPath != "/microsoft/DeepSpeed/archive/v0.14.0.zip" {
		t.Errorf("requested path = %q", gotPath)
	}

	// The wrapper directory's contents must sit at the workspace root.
	content, err := os.ReadFile(filepath.Join(ws, "setup.py"))
	if err != nil {
		t.Fatalf("setup.py not promoted to workspace root: %v", err)
	}
	if string(content) != "print('setup')" {
		t.Errorf("setup.py content = %q", content)
	}
	if _, err := os.Stat(filepath.Join(ws, "csrc", "adam.cpp")); err != nil {
		t.Errorf("nested file not promoted: %v", err)
	}

	// Neither the wrapper directory nor the archive file survive.
	if _, err := os.Stat(filepath.Join(ws, "DeepSpeed-0.14.0")); !os.IsNotExist(err) {
		t.Errorf("wrapper directory still present, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(ws, "source.zip")); !os.IsNotExist(err) {
		t.Errorf("archive file still present, stat err = %v", err)
	}
}

func TestDownloadNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := testFetcher(srv.URL)
	_, err := f.Download(context.Background(), "9.9.9", t.TempDir())
	if err == nil {
		t.Fatal("Download() succeeded on a 404")
	}

	var statusErr *builderr.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Download() error = %T(%v), want *builderr.StatusError", err, err)
	}
	if statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", statusErr.StatusCode)
	}
}

func TestExtractRejectsMultipleTopLevelEntries(t *testing.T) {
	archive := zipArchive(t, map[string]string{
		"DeepSpeed-0.14.0/setup.py": "",
		"stray.txt":                 "unexpected",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	f := testFetcher(srv.URL)
	err := f.Fetch(context.Background(), "0.14.0", t.TempDir())
	if !errors.Is(err, builderr.ErrArchiveLayout) {
		t.Fatalf("Fetch() error = %v, want ErrArchiveLayout", err)
	}
}

func TestExtractRejectsTopLevelFile(t *testing.T) {
	archive := zipArchive(t, map[string]string{
		"DeepSpeed-0.14.0.tar": "not a directory",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	f := testFetcher(srv.URL)
	err := f.Fetch(context.Background(), "0.14.0", t.TempDir())
	if !errors.Is(err, builderr.ErrArchiveLayout) {
		t.Fatalf("Fetch() error = %v, want ErrArchiveLayout", err)
	}
	// The message must say the entry was a file, not miscount directories.
	if !strings.Contains(err.Error(), `found file "DeepSpeed-0.14.0.tar"`) {
		t.Errorf("error = %q, want it to name the non-directory entry", err)
	}
}

func TestExtractRejectsZipSlip(t *testing.T) {
	// A crafted entry must not be allowed to write outside the workspace.
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("../evil.txt")
	if err != nil {
		t.Fatalf("zip Create error = %v", err)
	}
	f.Write([]byte("escape"))
	w.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Write(buf.Bytes())
	}))
	defer srv.Close()

	parent := t.TempDir()
	ws := filepath.Join(parent, "ws")
	if err := os.MkdirAll(ws, 0o755); err != nil {
		t.Fatal(err)
	}

	fetcher := testFetcher(srv.URL)
	if err := fetcher.Fetch(context.Background(), "0.14.0", ws); err == nil {
		t.Fatal("Fetch() accepted an archive with a path-traversal entry")
	}
	if _, err := os.Stat(filepath.Join(parent, "evil.txt")); !os.IsNotExist(err) {
		t.Fatalf("zip-slip entry escaped the workspace, stat err = %v", err)
	}
}

func TestDownloadHonorsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("partial"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := testFetcher(srv.URL)
	if _, err := f.Download(ctx, "0.14.0", t.TempDir()); err == nil {
		t.Fatal("Download() succeeded with a canceled context")
	}
}
