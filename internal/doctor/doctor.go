// Package doctor validates build prerequisites: toolchain, compute toolkit,
// and required Python runtime packages. It reports every gap in one pass and
// never fails a check by raising.
package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mattjoyce/wheelforge/internal/config"
	"github.com/mattjoyce/wheelforge/internal/log"
	"github.com/mattjoyce/wheelforge/internal/pyenv"
	"github.com/mattjoyce/wheelforge/internal/toolchain"
)

// PythonRuntime is the slice of the interpreter the doctor needs.
type PythonRuntime interface {
	Version(ctx context.Context) (string, error)
	Distribution(ctx context.Context, name string) (bool, string, error)
	TorchInfo(ctx context.Context) (pyenv.TorchInfo, error)
	PipInstall(ctx context.Context, args ...string) error
}

// Finding is one prerequisite's verdict.
type Finding struct {
	Subject   string `json:"subject"`
	Satisfied bool   `json:"satisfied"`
	Detail    string `json:"detail"`
}

// Report holds the complete outcome of a prerequisite check. A report is
// always complete: a false AllSatisfied still carries every finding.
type Report struct {
	AllSatisfied bool      `json:"all_satisfied"`
	Findings     []Finding `json:"findings"`
}

// installable distributions get one best-effort pip install when missing.
// torch is excluded: its install is CUDA-variant specific and manual.
var installableDistributions = []struct {
	name    string
	purpose string
}{
	{"ninja", "Ninja build system is required for compilation"},
	{"psutil", "psutil is required for system monitoring"},
}

const (
	vsInstallHint    = "install Visual Studio with 'Desktop development with C++' from https://visualstudio.microsoft.com/vs/community/"
	cudaInstallHint  = "install the CUDA Toolkit (nvcc + CUBLAS) from https://developer.nvidia.com/cuda-toolkit-archive"
	torchInstallHint = "install PyTorch manually from https://pytorch.org/get-started/locally/"
)

// Doctor checks prerequisites against a toolchain locator and a Python
// runtime.
type Doctor struct {
	locator *toolchain.Locator
	python  PythonRuntime
	logger  *slog.Logger
}

func New(locator *toolchain.Locator, python PythonRuntime) *Doctor {
	return &Doctor{
		locator: locator,
		python:  python,
		logger:  log.WithComponent("doctor"),
	}
}

// Check runs every prerequisite probe without short-circuiting, so the
// operator sees the full list of gaps in one pass. It may install missing
// runtime packages (a deliberate side effect); it never touches the
// workspace.
func (d *Doctor) Check(ctx context.Context, req config.BuildRequest) Report {
	r := Report{}

	d.checkToolchain(&r)
	d.checkToolkit(&r, req.ToolkitVersion)
	d.checkPython(ctx, &r)
	d.checkTorch(ctx, &r)
	for _, dist := range installableDistributions {
		d.checkDistribution(ctx, &r, dist.name, dist.purpose)
	}

	r.AllSatisfied = true
	for _, f := range r.Findings {
		if !f.Satisfied {
			r.AllSatisfied = false
			break
		}
	}
	return r
}

func (d *Doctor) add(r *Report, subject string, satisfied bool, detail string) {
	r.Findings = append(r.Findings, Finding{Subject: subject, Satisfied: satisfied, Detail: detail})
}

func (d *Doctor) checkToolchain(r *Report) {
	profile, ok := d.locator.Locate()
	if !ok {
		d.add(r, "toolchain", false, "no compatible Visual Studio installation found; "+vsInstallHint)
		return
	}
	d.add(r, "toolchain", true, fmt.Sprintf("found %s at %s", profile.Name, profile.InstallRoot))
}

func (d *Doctor) checkToolkit(r *Report, version string) {
	profile, ok := d.locator.ToolkitInstalled(version)
	if !ok {
		d.add(r, "cuda_toolkit", false,
			fmt.Sprintf("CUDA toolkit not found at %s; %s", toolchain.ToolkitRoot(version), cudaInstallHint))
		return
	}
	d.add(r, "cuda_toolkit", true, fmt.Sprintf("found CUDA installation at %s", profile.InstallRoot))

	if d.locator.NvccInstalled(version) {
		d.add(r, "nvcc", true, "found nvcc compiler")
	} else {
		d.add(r, "nvcc", false,
			fmt.Sprintf("nvcc not found at %s; install the CUDA development tools", toolchain.NvccPath(version)))
	}
}

func (d *Doctor) checkPython(ctx context.Context, r *Report) {
	version, err := d.python.Version(ctx)
	if err != nil {
		d.add(r, "python", false, fmt.Sprintf("error querying interpreter: %v", err))
		return
	}
	d.add(r, "python", true, fmt.Sprintf("python %s", version))
}

func (d *Doctor) checkTorch(ctx context.Context, r *Report) {
	info, err := d.python.TorchInfo(ctx)
	if err != nil {
		d.add(r, "torch", false, fmt.Sprintf("error probing torch: %v", err))
		return
	}
	if !info.Installed {
		d.add(r, "torch", false, "torch is missing - PyTorch is required; "+torchInstallHint)
		return
	}

	detail := fmt.Sprintf("torch %s is installed", info.Version)
	if info.CudaAvailable {
		detail += fmt.Sprintf("; CUDA is available (built against CUDA %s)", info.CudaVersion)
	} else {
		detail += "; CUDA is not available for this torch build"
	}
	d.add(r, "torch", true, detail)
}

// checkDistribution probes one installable package and attempts a single
// automatic install when it is missing. A failed install stays unsatisfied
// and is not retried.
func (d *Doctor) checkDistribution(ctx context.Context, r *Report, name, purpose string) {
	installed, version, err := d.python.Distribution(ctx, name)
	if err != nil {
		d.add(r, name, false, fmt.Sprintf("error probing %s: %v", name, err))
		return
	}
	if installed {
		d.add(r, name, true, fmt.Sprintf("%s %s is installed", name, version))
		return
	}

	d.logger.Info("prerequisite missing, attempting install", "package", name)
	if err := d.python.PipInstall(ctx, name); err != nil {
		d.add(r, name, false, fmt.Sprintf("%s is missing - %s; automatic install failed: %v", name, purpose, err))
		return
	}

	installed, version, err = d.python.Distribution(ctx, name)
	if err != nil || !installed {
		d.add(r, name, false, fmt.Sprintf("%s is missing - %s; install reported success but package still absent", name, purpose))
		return
	}
	d.add(r, name, true, fmt.Sprintf("%s %s installed automatically", name, version))
}

// FormatHuman renders the report the way the build log shows it.
func FormatHuman(r Report) string {
	var b strings.Builder
	for _, f := range r.Findings {
		mark := "OK "
		if !f.Satisfied {
			mark = "MISSING"
		}
		fmt.Fprintf(&b, "  [%s] %s: %s\n", mark, f.Subject, f.Detail)
	}
	if r.AllSatisfied {
		b.WriteString("All prerequisites met.\n")
	} else {
		b.WriteString("Some prerequisites are missing; install them before building.\n")
	}
	return b.String()
}

// FormatJSON returns the report as indented JSON.
func FormatJSON(r Report) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
