// Package buildexec runs the native build as a subprocess under a
// toolchain-specific environment, streaming its combined output line by line.
package buildexec

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/mattjoyce/wheelforge/internal/artifact"
	"github.com/mattjoyce/wheelforge/internal/builderr"
	"github.com/mattjoyce/wheelforge/internal/buildlog"
	"github.com/mattjoyce/wheelforge/internal/config"
	"github.com/mattjoyce/wheelforge/internal/log"
	"github.com/mattjoyce/wheelforge/internal/toolchain"
)

const (
	// defaultTailLines bounds the output tail carried in a build failure.
	defaultTailLines = 40

	// scanBufferSize allows long compiler output lines.
	scanBufferSize = 1 << 20
)

// Executor materializes the build script and runs it.
type Executor struct {
	// CommandFactory builds the process that interprets the script. The
	// default invokes the Windows shell; tests substitute their own.
	CommandFactory func(ctx context.Context, scriptPath string) *exec.Cmd

	// TailLines overrides the failure-tail bound when positive.
	TailLines int

	sink   buildlog.Sink
	logger *slog.Logger
}

func NewExecutor(sink buildlog.Sink) *Executor {
	return &Executor{
		CommandFactory: func(ctx context.Context, scriptPath string) *exec.Cmd {
			return exec.CommandContext(ctx, "cmd", "/c", scriptPath)
		},
		sink:   sink,
		logger: log.WithComponent("buildexec"),
	}
}

// Build writes the build script, executes it with stdout and stderr collapsed
// onto one combined stream, forwards each output line to the sink as it
// arrives, and on success returns the single wheel the build left in dist/.
// The script file is deleted afterward regardless of outcome; a deletion
// failure is logged, never fatal.
func (e *Executor) Build(ctx context.Context, req config.BuildRequest, tc toolchain.Profile) (artifact.Artifact, error) {
	scriptPath := filepath.Join(req.WorkspaceDir, ScriptName)
	if err := os.WriteFile(scriptPath, []byte(Script(req, tc)), 0o755); err != nil {
		return artifact.Artifact{}, builderr.Wrap(builderr.ErrWorkspaceIO, err, "write build script")
	}
	defer func() {
		if err := os.Remove(scriptPath); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("could not remove build script", "path", scriptPath, "error", err)
		}
	}()

	buildlog.Linef(e.sink, "Using %s 64-bit tools from: %s", tc.Name, tc.InstallRoot)
	buildlog.Linef(e.sink, "Starting build with 64-bit tools...")

	tailBound := e.TailLines
	if tailBound <= 0 {
		tailBound = defaultTailLines
	}

	cmd := e.CommandFactory(ctx, scriptPath)

	// One pipe carries both streams so lines arrive in the exact order the
	// child emitted them.
	pr, pw, err := os.Pipe()
	if err != nil {
		return artifact.Artifact{}, builderr.Wrap(builderr.ErrBuildProcess, err, "create output pipe")
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return artifact.Artifact{}, builderr.Wrap(builderr.ErrBuildProcess, err, "start build process")
	}
	// The child holds its own copy of the write end.
	pw.Close()

	var tail []string
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), scanBufferSize)
	for scanner.Scan() {
		line := scanner.Text()
		e.sink.Line(line)
		tail = append(tail, line)
		if len(tail) > tailBound {
			tail = tail[1:]
		}
	}
	if scanErr := scanner.Err(); scanErr != nil {
		// Keep draining so the child never blocks on a full pipe, and record
		// that output was lost.
		_, _ = io.Copy(io.Discard, pr)
		note := fmt.Sprintf("[build output truncated: %v]", scanErr)
		e.sink.Line(note)
		tail = append(tail, note)
		if len(tail) > tailBound {
			tail = tail[1:]
		}
		e.logger.Warn("build output scan stopped early", "error", scanErr)
	}
	pr.Close()

	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return artifact.Artifact{}, &builderr.BuildFailure{ExitCode: exitErr.ExitCode(), Tail: tail}
		}
		return artifact.Artifact{}, builderr.Wrap(builderr.ErrBuildProcess, err, "wait for build process")
	}

	return FindArtifact(req)
}

// FindArtifact scans the workspace dist directory for the wheel. Exactly one
// is expected per successful build: none is a defect in the build, several is
// an inconsistency we refuse to resolve silently.
func FindArtifact(req config.BuildRequest) (artifact.Artifact, error) {
	distDir := filepath.Join(req.WorkspaceDir, "dist")
	matches, err := filepath.Glob(filepath.Join(distDir, "*.whl"))
	if err != nil {
		return artifact.Artifact{}, builderr.Wrap(builderr.ErrWorkspaceIO, err, "scan dist directory")
	}

	switch len(matches) {
	case 0:
		return artifact.Artifact{}, builderr.New(builderr.ErrArtifactNotProduced,
			"build reported success but no artifact found in %s", distDir)
	case 1:
		return artifact.Artifact{
			Path:           matches[0],
			PackageVersion: req.PackageVersion,
			ToolkitVersion: req.ToolkitVersion,
			PythonTag:      req.PythonTag,
		}, nil
	default:
		return artifact.Artifact{}, builderr.New(builderr.ErrArtifactAmbiguous,
			"found %d wheel files in %s, expected exactly one", len(matches), distDir)
	}
}
