// Package fetch downloads a versioned source archive and normalizes it into
// the workspace: streamed download, in-place extraction, and promotion of the
// archive's single top-level directory into the workspace root.
package fetch

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/wheelforge/internal/builderr"
	"github.com/mattjoyce/wheelforge/internal/buildlog"
	"github.com/mattjoyce/wheelforge/internal/config"
	"github.com/mattjoyce/wheelforge/internal/log"
)

const (
	// downloadChunkSize bounds peak memory independent of archive size.
	downloadChunkSize = 8192

	// archiveName is the transient archive file inside the workspace.
	archiveName = "source.zip"
)

// Fetcher downloads and stages one source release.
type Fetcher struct {
	// Client and BaseURL are overridable for tests.
	Client  *http.Client
	BaseURL string

	owner  string
	repo   string
	sink   buildlog.Sink
	logger *slog.Logger
}

func New(src config.SourceConfig, sink buildlog.Sink) *Fetcher {
	return &Fetcher{
		Client:  http.DefaultClient,
		BaseURL: "https://github.com",
		owner:   src.Owner,
		repo:    src.Repo,
		sink:    sink,
		logger:  log.WithComponent("fetch"),
	}
}

// ArchiveURL returns the fixed-pattern release archive URL for version.
func (f *Fetcher) ArchiveURL(version string) string {
	return fmt.Sprintf("%s/%s/%s/archive/v%s.zip", f.BaseURL, f.owner, f.repo, version)
}

// Fetch downloads the archive for version into workspaceDir, unpacks it, and
// promotes the single top-level directory's contents into the workspace root.
// After a successful return no archive file and no empty wrapper directory
// remain. A non-success HTTP status is fatal for the run; there is no retry.
func (f *Fetcher) Fetch(ctx context.Context, version, workspaceDir string) error {
	zipPath, err := f.Download(ctx, version, workspaceDir)
	if err != nil {
		return err
	}
	return f.Extract(zipPath, workspaceDir)
}

// Download streams the release archive for version into workspaceDir and
// returns the archive path.
func (f *Fetcher) Download(ctx context.Context, version, workspaceDir string) (string, error) {
	url := f.ArchiveURL(version)
	buildlog.Linef(f.sink, "Download URL: %s", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", builderr.Wrap(builderr.ErrNetwork, err, "build request")
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return "", builderr.Wrap(builderr.ErrNetwork, err, "download")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &builderr.StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	zipPath := filepath.Join(workspaceDir, archiveName)
	written, err := f.streamToFile(ctx, resp.Body, zipPath)
	if err != nil {
		return "", err
	}
	f.logger.Debug("archive downloaded", "bytes", written, "path", zipPath)
	return zipPath, nil
}

// Extract unpacks the downloaded archive in place and normalizes the
// workspace layout.
func (f *Fetcher) Extract(zipPath, workspaceDir string) error {
	buildlog.Linef(f.sink, "Extracting files...")
	if err := unzip(zipPath, workspaceDir); err != nil {
		return err
	}
	return promote(workspaceDir, zipPath)
}

// streamToFile copies the response body to path in fixed-size chunks, never
// buffering the whole payload.
func (f *Fetcher) streamToFile(ctx context.Context, body io.Reader, path string) (int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, builderr.Wrap(builderr.ErrWorkspaceIO, err, "create archive file")
	}
	defer out.Close()

	buf := make([]byte, downloadChunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, builderr.Wrap(builderr.ErrNetwork, err, "download cancelled")
		}
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return written, builderr.Wrap(builderr.ErrWorkspaceIO, werr, "write archive file")
			}
			written += int64(n)
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, builderr.Wrap(builderr.ErrNetwork, rerr, "read response body")
		}
	}
}

// unzip extracts the archive into destDir, rejecting entries that would
// escape it.
func unzip(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return builderr.Wrap(builderr.ErrArchiveLayout, err, "open archive")
	}
	defer r.Close()

	cleanDest := filepath.Clean(destDir)
	for _, zf := range r.File {
		target := filepath.Join(cleanDest, filepath.FromSlash(zf.Name))
		if target != cleanDest && !strings.HasPrefix(target, cleanDest+string(os.PathSeparator)) {
			return builderr.New(builderr.ErrArchiveLayout, "archive entry %q escapes the workspace", zf.Name)
		}

		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return builderr.Wrap(builderr.ErrWorkspaceIO, err, "create extracted directory")
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return builderr.Wrap(builderr.ErrWorkspaceIO, err, "create extracted parent")
		}
		if err := extractFile(zf, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(zf *zip.File, target string) error {
	in, err := zf.Open()
	if err != nil {
		return builderr.Wrap(builderr.ErrArchiveLayout, err, fmt.Sprintf("open archive entry %q", zf.Name))
	}
	defer in.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, zf.Mode().Perm()|0o200)
	if err != nil {
		return builderr.Wrap(builderr.ErrWorkspaceIO, err, "create extracted file")
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return builderr.Wrap(builderr.ErrWorkspaceIO, err, fmt.Sprintf("extract %q", zf.Name))
	}
	return nil
}

// promote moves the single top-level extracted directory's contents up into
// the workspace root, then removes the emptied directory and the archive
// file. Anything other than exactly one top-level directory is an
// inconsistency and fails fast.
func promote(workspaceDir, zipPath string) error {
	entries, err := os.ReadDir(workspaceDir)
	if err != nil {
		return builderr.Wrap(builderr.ErrWorkspaceIO, err, "read workspace")
	}

	var tops []os.DirEntry
	for _, e := range entries {
		if e.Name() == archiveName {
			continue
		}
		tops = append(tops, e)
	}
	if len(tops) != 1 {
		return builderr.New(builderr.ErrArchiveLayout,
			"expected exactly one top-level directory after extraction, found %d entries", len(tops))
	}
	if !tops[0].IsDir() {
		return builderr.New(builderr.ErrArchiveLayout,
			"expected a top-level directory after extraction, found file %q", tops[0].Name())
	}

	wrapper := filepath.Join(workspaceDir, tops[0].Name())
	children, err := os.ReadDir(wrapper)
	if err != nil {
		return builderr.Wrap(builderr.ErrWorkspaceIO, err, "read extracted directory")
	}
	for _, c := range children {
		src := filepath.Join(wrapper, c.Name())
		dst := filepath.Join(workspaceDir, c.Name())
		if err := os.Rename(src, dst); err != nil {
			return builderr.Wrap(builderr.ErrWorkspaceIO, err, fmt.Sprintf("move %q up", c.Name()))
		}
	}

	if err := os.Remove(wrapper); err != nil {
		return builderr.Wrap(builderr.ErrWorkspaceIO, err, "remove emptied directory")
	}
	if err := os.Remove(zipPath); err != nil {
		return builderr.Wrap(builderr.ErrWorkspaceIO, err, "remove archive file")
	}
	return nil
}
