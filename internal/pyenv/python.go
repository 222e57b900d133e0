// Package pyenv drives the Python interpreter the build targets: version
// probes, installed-distribution checks, torch capability reporting, and pip
// install/uninstall.
package pyenv

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Interpreter is a resolved Python executable.
type Interpreter struct {
	path string
}

// Resolve returns the interpreter at override, or the first of python/python3
// found in PATH.
func Resolve(override string) (*Interpreter, error) {
	if override != "" {
		return &Interpreter{path: override}, nil
	}
	for _, name := range []string{"python", "python3"} {
		if p, err := exec.LookPath(name); err == nil {
			return &Interpreter{path: p}, nil
		}
	}
	return nil, fmt.Errorf("no python interpreter found in PATH")
}

func (i *Interpreter) Path() string { return i.path }

// run executes the interpreter and returns trimmed combined output.
func (i *Interpreter) run(ctx context.Context, args ...string) (string, int, error) {
	cmd := exec.CommandContext(ctx, i.path, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	out := strings.TrimSpace(buf.String())
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return out, exitErr.ExitCode(), nil
		}
		return out, -1, fmt.Errorf("run %s: %w", i.path, err)
	}
	return out, 0, nil
}

// Version returns the full interpreter version, e.g. "3.12.4".
func (i *Interpreter) Version(ctx context.Context) (string, error) {
	out, code, err := i.run(ctx, "-c", `import platform; print(platform.python_version())`)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("query python version: exit %d: %s", code, out)
	}
	return out, nil
}

// VersionTag returns the interpreter's major/minor digits, e.g. "312", used
// in archive directory names.
func (i *Interpreter) VersionTag(ctx context.Context) (string, error) {
	out, code, err := i.run(ctx, "-c", `import sys; print("%d%d" % sys.version_info[:2])`)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("query python version tag: exit %d: %s", code, out)
	}
	return out, nil
}

// distProbe exits 3 when the distribution is absent so absence is
// distinguishable from a broken interpreter.
const distProbe = `import sys
from importlib.metadata import version, PackageNotFoundError
try:
    print(version(sys.argv[1]))
except PackageNotFoundError:
    sys.exit(3)
`

// Distribution reports whether the named distribution is installed, and its
// version when present.
func (i *Interpreter) Distribution(ctx context.Context, name string) (bool, string, error) {
	out, code, err := i.run(ctx, "-c", distProbe, name)
	if err != nil {
		return false, "", err
	}
	switch code {
	case 0:
		return true, out, nil
	case 3:
		return false, "", nil
	default:
		return false, "", fmt.Errorf("probe distribution %q: exit %d: %s", name, code, out)
	}
}

// TorchInfo describes the installed torch runtime and its GPU support.
type TorchInfo struct {
	Installed     bool
	Version       string
	CudaAvailable bool
	CudaVersion   string
}

const torchProbe = `try:
    import torch
except ImportError:
    print("missing")
    raise SystemExit(0)
print("ok")
print(torch.__version__)
print("cuda" if torch.cuda.is_available() else "cpu")
print(torch.version.cuda or "")
`

// TorchInfo probes the torch installation. A missing torch is a valid result,
// not an error.
func (i *Interpreter) TorchInfo(ctx context.Context) (TorchInfo, error) {
	out, code, err := i.run(ctx, "-c", torchProbe)
	if err != nil {
		return TorchInfo{}, err
	}
	if code != 0 {
		return TorchInfo{}, fmt.Errorf("probe torch: exit %d: %s", code, out)
	}

	lines := strings.Split(out, "\n")
	if lines[0] == "missing" {
		return TorchInfo{}, nil
	}
	if len(lines) < 4 || lines[0] != "ok" {
		return TorchInfo{}, fmt.Errorf("probe torch: unexpected output %q", out)
	}
	return TorchInfo{
		Installed:     true,
		Version:       strings.TrimSpace(lines[1]),
		CudaAvailable: strings.TrimSpace(lines[2]) == "cuda",
		CudaVersion:   strings.TrimSpace(lines[3]),
	}, nil
}

// PipInstall runs `python -m pip install args...`.
func (i *Interpreter) PipInstall(ctx context.Context, args ...string) error {
	full := append([]string{"-m", "pip", "install"}, args...)
	out, code, err := i.run(ctx, full...)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("pip install %s: exit %d: %s", strings.Join(args, " "), code, tail(out, 20))
	}
	return nil
}

// PipUninstall runs `python -m pip uninstall <name> -y`.
func (i *Interpreter) PipUninstall(ctx context.Context, name string) error {
	out, code, err := i.run(ctx, "-m", "pip", "uninstall", name, "-y")
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("pip uninstall %s: exit %d: %s", name, code, tail(out, 20))
	}
	return nil
}

// tail returns the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
