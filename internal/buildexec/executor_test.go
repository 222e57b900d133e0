package buildexec

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/mattjoyce/wheelforge/internal/builderr"
	"github.com/mattjoyce/wheelforge/internal/config"
)

type recordingSink struct {
	lines []string
}

func (s *recordingSink) Line(msg string) { s.lines = append(s.lines, msg) }

// shellExecutor substitutes a POSIX shell for the Windows shell so executor
// behavior is testable anywhere.
func shellExecutor(sink *recordingSink, shellScript string) *Executor {
	e := NewExecutor(sink)
	e.CommandFactory = func(ctx context.Context, scriptPath string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", shellScript)
	}
	return e
}

func requestFor(dir string) config.BuildRequest {
	req := testRequest()
	req.WorkspaceDir = dir
	return req
}

func TestBuildStreamsOutputInOrder(t *testing.T) {
	dir := t.TempDir()
	mustWriteWheel(t, dir, "deepspeed-0.14.0-cp312-win_amd64.whl")

	sink := &recordingSink{}
	e := shellExecutor(sink, `echo out1; echo err1 1>&2; echo out2`)

	art, err := e.Build(context.Background(), requestFor(dir), testToolchain())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	want := []string{"out1", "err1", "out2"}
	// The first two sink lines are the toolchain banner.
	if len(sink.lines) < 2+len(want) {
		t.Fatalf("sink got %d lines: %v", len(sink.lines), sink.lines)
	}
	if got := sink.lines[len(sink.lines)-len(want):]; !reflect.DeepEqual(got, want) {
		t.Errorf("streamed lines = %v, want %v", got, want)
	}

	if art.PackageVersion != "0.14.0" || art.PythonTag != "312" {
		t.Errorf("artifact metadata = %+v", art)
	}
	if filepath.Base(art.Path) != "deepspeed-0.14.0-cp312-win_amd64.whl" {
		t.Errorf("artifact path = %q", art.Path)
	}
}

func TestBuildRemovesScript(t *testing.T) {
	dir := t.TempDir()
	mustWriteWheel(t, dir, "deepspeed-0.14.0-cp312-win_amd64.whl")

	e := shellExecutor(&recordingSink{}, "true")
	if _, err := e.Build(context.Background(), requestFor(dir), testToolchain()); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, ScriptName)); !os.IsNotExist(err) {
		t.Errorf("build script still present after run, stat err = %v", err)
	}
}

func TestBuildFailureCarriesExitCodeAndTail(t *testing.T) {
	dir := t.TempDir()

	e := shellExecutor(&recordingSink{}, `echo compiling; echo "fatal error C1083" 1>&2; exit 3`)
	_, err := e.Build(context.Background(), requestFor(dir), testToolchain())
	if err == nil {
		t.Fatal("Build() succeeded on a failing process")
	}

	var failure *builderr.BuildFailure
	if !errors.As(err, &failure) {
		t.Fatalf("Build() error = %T(%v), want *builderr.BuildFailure", err, err)
	}
	if failure.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", failure.ExitCode)
	}
	if !containsLine(failure.Tail, "fatal error C1083") {
		t.Errorf("Tail = %v, want the stderr diagnostic", failure.Tail)
	}

	// A failed build must also clean up its script.
	if _, err := os.Stat(filepath.Join(dir, ScriptName)); !os.IsNotExist(err) {
		t.Errorf("build script still present after failure, stat err = %v", err)
	}
}

func TestBuildNoArtifactProduced(t *testing.T) {
	dir := t.TempDir()

	e := shellExecutor(&recordingSink{}, "true")
	_, err := e.Build(context.Background(), requestFor(dir), testToolchain())
	if !errors.Is(err, builderr.ErrArtifactNotProduced) {
		t.Fatalf("Build() error = %v, want ErrArtifactNotProduced", err)
	}
}

func TestBuildAmbiguousArtifacts(t *testing.T) {
	dir := t.TempDir()
	mustWriteWheel(t, dir, "deepspeed-0.14.0-cp312-win_amd64.whl")
	mustWriteWheel(t, dir, "deepspeed-0.14.0-cp311-win_amd64.whl")

	e := shellExecutor(&recordingSink{}, "true")
	_, err := e.Build(context.Background(), requestFor(dir), testToolchain())
	if !errors.Is(err, builderr.ErrArtifactAmbiguous) {
		t.Fatalf("Build() error = %v, want ErrArtifactAmbiguous", err)
	}
}

func TestBuildTailBounded(t *testing.T) {
	dir := t.TempDir()

	sink := &recordingSink{}
	e := shellExecutor(sink, `i=0; while [ $i -lt 100 ]; do echo "line $i"; i=$((i+1)); done; exit 1`)
	e.TailLines = 5

	_, err := e.Build(context.Background(), requestFor(dir), testToolchain())
	var failure *builderr.BuildFailure
	if !errors.As(err, &failure) {
		t.Fatalf("Build() error = %v, want *builderr.BuildFailure", err)
	}
	if len(failure.Tail) != 5 {
		t.Fatalf("Tail has %d lines, want 5", len(failure.Tail))
	}
	if failure.Tail[4] != "line 99" {
		t.Errorf("Tail[4] = %q, want the final line", failure.Tail[4])
	}
}

func TestBuildOverlongLineNotedInDiagnostics(t *testing.T) {
	dir := t.TempDir()

	// A single output line past the scan buffer bound stops forwarding; the
	// loss must be recorded, not silent, and the exit code still interpreted.
	sink := &recordingSink{}
	e := shellExecutor(sink, `head -c 2097160 /dev/zero | tr "\0" x; echo; exit 3`)

	_, err := e.Build(context.Background(), requestFor(dir), testToolchain())
	var failure *builderr.BuildFailure
	if !errors.As(err, &failure) {
		t.Fatalf("Build() error = %v, want *builderr.BuildFailure", err)
	}
	if failure.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", failure.ExitCode)
	}
	if len(failure.Tail) == 0 || !strings.Contains(failure.Tail[len(failure.Tail)-1], "build output truncated") {
		t.Errorf("Tail = %v, want a trailing truncation note", failure.Tail)
	}
	last := sink.lines[len(sink.lines)-1]
	if !strings.Contains(last, "build output truncated") {
		t.Errorf("last sink line = %q, want the truncation note", last)
	}
}

func mustWriteWheel(t *testing.T, workspaceDir, name string) {
	t.Helper()
	distDir := filepath.Join(workspaceDir, "dist")
	if err := os.MkdirAll(distDir, 0o755); err != nil {
		t.Fatalf("MkdirAll(dist) error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(distDir, name), []byte("wheel"), 0o644); err != nil {
		t.Fatalf("WriteFile(wheel) error = %v", err)
	}
}

func containsLine(lines []string, want string) bool {
	for _, l := range lines {
		if l == want {
			return true
		}
	}
	return false
}
