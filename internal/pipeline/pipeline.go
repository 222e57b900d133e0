// Package pipeline drives one build end to end: prerequisite gate, workspace
// reset, source staging, native build, artifact archive, and optional
// install. A single logical thread drives every stage; the workspace lock
// keeps concurrent runs out.
package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/mattjoyce/wheelforge/internal/artifact"
	"github.com/mattjoyce/wheelforge/internal/builderr"
	"github.com/mattjoyce/wheelforge/internal/buildexec"
	"github.com/mattjoyce/wheelforge/internal/buildlog"
	"github.com/mattjoyce/wheelforge/internal/config"
	"github.com/mattjoyce/wheelforge/internal/doctor"
	"github.com/mattjoyce/wheelforge/internal/events"
	"github.com/mattjoyce/wheelforge/internal/fetch"
	"github.com/mattjoyce/wheelforge/internal/history"
	"github.com/mattjoyce/wheelforge/internal/log"
	"github.com/mattjoyce/wheelforge/internal/toolchain"
	"github.com/mattjoyce/wheelforge/internal/workspace"
)

// Outcome is what a public pipeline entry point hands back: a success flag
// and a message an operator can render directly, plus the typed error.
type Outcome struct {
	OK      bool
	Message string
	Err     error
}

// PythonRuntime is the interpreter surface the pipeline and its doctor rely
// on. *pyenv.Interpreter satisfies it.
type PythonRuntime interface {
	doctor.PythonRuntime
	Path() string
	VersionTag(ctx context.Context) (string, error)
}

// Deps collects the collaborators a Pipeline drives.
type Deps struct {
	Config    *config.Config
	Locator   *toolchain.Locator
	Python    PythonRuntime
	Workspace *workspace.Manager
	Fetcher   *fetch.Fetcher
	Executor  *buildexec.Executor
	Artifacts *artifact.Manager
	History   *history.Store // optional
	Hub       *events.Hub
	Sink      buildlog.Sink
}

type Pipeline struct {
	deps   Deps
	doctor *doctor.Doctor
	logger *slog.Logger

	mu      sync.Mutex
	current *Run
}

func New(deps Deps) *Pipeline {
	return &Pipeline{
		deps:   deps,
		doctor: doctor.New(deps.Locator, deps.Python),
		logger: log.WithComponent("pipeline"),
	}
}

// CurrentRun returns a snapshot of the active (or last) run.
func (p *Pipeline) CurrentRun() (Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return Snapshot{}, false
	}
	return p.current.Snapshot(), true
}

// CheckPrerequisites runs the doctor and logs its findings. It never mutates
// the workspace; it may install missing runtime packages.
func (p *Pipeline) CheckPrerequisites(ctx context.Context, req config.BuildRequest) doctor.Report {
	buildlog.Linef(p.deps.Sink, "Checking prerequisites...")
	report := p.doctor.Check(ctx, req)
	for _, f := range report.Findings {
		mark := "OK"
		if !f.Satisfied {
			mark = "MISSING"
		}
		buildlog.Linef(p.deps.Sink, "[%s] %s: %s", mark, f.Subject, f.Detail)
	}
	return report
}

// BuildOnly builds and archives a wheel without installing it.
func (p *Pipeline) BuildOnly(ctx context.Context, req config.BuildRequest) Outcome {
	return p.run(ctx, req, false)
}

// BuildAndInstall builds, archives, and installs the wheel.
func (p *Pipeline) BuildAndInstall(ctx context.Context, req config.BuildRequest) Outcome {
	return p.run(ctx, req, true)
}

// InstallExisting installs a wheel left in the workspace by a previous build,
// without rebuilding.
func (p *Pipeline) InstallExisting(ctx context.Context, req config.BuildRequest) Outcome {
	if err := p.completeRequest(ctx, &req); err != nil {
		return Outcome{Message: err.Error(), Err: err}
	}

	buildlog.Linef(p.deps.Sink, "Looking for built wheel...")
	art, err := buildexec.FindArtifact(req)
	if err != nil {
		return Outcome{Message: "No wheel file found. Build first.", Err: err}
	}
	buildlog.Linef(p.deps.Sink, "Found wheel: %s", art.Path)

	if err := p.deps.Artifacts.Install(ctx, art, false); err != nil {
		return Outcome{Message: err.Error(), Err: err}
	}
	buildlog.Linef(p.deps.Sink, "Installation completed successfully!")
	return Outcome{OK: true, Message: "Installation completed successfully!"}
}

// run executes the full pipeline. Stage failures abort the remaining stages;
// partial side effects stay on disk and the idempotent reset/archive/install
// operations self-correct the next run.
func (p *Pipeline) run(ctx context.Context, req config.BuildRequest, install bool) Outcome {
	if err := p.completeRequest(ctx, &req); err != nil {
		return Outcome{Message: err.Error(), Err: err}
	}
	if !p.deps.Config.HasVersion(req.PackageVersion) {
		err := builderr.New(builderr.ErrPrerequisiteMissing,
			"version %s is not listed in the manifest", req.PackageVersion)
		return Outcome{Message: err.Error(), Err: err}
	}

	run := newRun(uuid.NewString(), req.PackageVersion, req.ToolkitVersion)
	p.mu.Lock()
	p.current = run
	p.mu.Unlock()

	runLogger := log.WithRun(run.Snapshot().ID)
	p.deps.Hub.Publish(events.TypeRunStarted, run.Snapshot())
	if p.deps.History != nil {
		if err := p.deps.History.Begin(ctx, run.Snapshot().ID, req.PackageVersion, req.ToolkitVersion, req.PythonTag); err != nil {
			runLogger.Warn("could not record run start", "error", err)
		}
	}

	p.logBanner(ctx, req)

	// Prerequisites gate every later stage.
	p.advance(ctx, run, StageChecking, 0, "Checking prerequisites...")
	report := p.doctor.Check(ctx, req)
	for _, f := range report.Findings {
		if !f.Satisfied {
			buildlog.Linef(p.deps.Sink, "[MISSING] %s: %s", f.Subject, f.Detail)
		}
	}
	if err := prereqError(report); err != nil {
		return p.failRun(ctx, run, err)
	}

	// The lock guards the workspace for the whole run.
	lock, err := workspace.AcquireLock(p.deps.Workspace.Dir())
	if err != nil {
		return p.failRun(ctx, run, builderr.Wrap(builderr.ErrWorkspaceIO, err, "acquire build lock"))
	}
	defer lock.Release()

	p.advance(ctx, run, StagePreparing, 5, "Preparing build directory...")
	buildlog.Linef(p.deps.Sink, "Cleaning existing build directory...")
	if err := p.deps.Workspace.Reset(ctx); err != nil {
		return p.failRun(ctx, run, err)
	}

	p.advance(ctx, run, StageDownloading, 10, "Downloading source archive...")
	buildlog.Linef(p.deps.Sink, "Downloading DeepSpeed %s...", req.PackageVersion)
	zipPath, err := p.deps.Fetcher.Download(ctx, req.PackageVersion, p.deps.Workspace.Dir())
	if err != nil {
		return p.failRun(ctx, run, err)
	}

	p.advance(ctx, run, StageExtracting, 30, "Extracting files...")
	if err := p.deps.Fetcher.Extract(zipPath, p.deps.Workspace.Dir()); err != nil {
		return p.failRun(ctx, run, err)
	}

	p.advance(ctx, run, StageBuilding, 50, "Building wheel...")
	tc, ok := p.deps.Locator.Locate()
	if !ok {
		return p.failRun(ctx, run, builderr.New(builderr.ErrToolchainNotFound,
			"Visual Studio 64-bit build tools not found"))
	}
	art, err := p.deps.Executor.Build(ctx, req, tc)
	if err != nil {
		return p.failRun(ctx, run, err)
	}

	// Archiving is best-effort: a failed copy is a warning, not a failed run.
	p.advance(ctx, run, StageArchiving, 90, "Archiving wheel...")
	var archivedPath, archivedSum string
	if dest, err := p.deps.Artifacts.Archive(art); err != nil {
		buildlog.Linef(p.deps.Sink, "Warning: could not archive wheel file: %v", err)
		runLogger.Warn("wheel archive failed", "error", err)
	} else {
		archivedPath = dest
		if sum, err := artifact.Checksum(dest); err == nil {
			archivedSum = sum
		}
	}

	if install {
		p.advance(ctx, run, StageInstalling, 95, "Installing wheel...")
		if err := p.deps.Artifacts.Install(ctx, art, true); err != nil {
			return p.failRun(ctx, run, err)
		}
	}

	msg := "Build completed successfully!"
	if install {
		msg = "Installation completed successfully!"
	}
	p.advance(ctx, run, StageComplete, 100, msg)
	buildlog.Linef(p.deps.Sink, "%s", msg)
	p.deps.Hub.Publish(events.TypeRunFinished, run.Snapshot())
	if p.deps.History != nil {
		if err := p.deps.History.Finish(ctx, run.Snapshot().ID, string(StageComplete), "succeeded",
			archivedPath, archivedSum, ""); err != nil {
			runLogger.Warn("could not record run finish", "error", err)
		}
	}
	return Outcome{OK: true, Message: msg}
}

// completeRequest fills the interpreter-derived fields and validates.
func (p *Pipeline) completeRequest(ctx context.Context, req *config.BuildRequest) error {
	if req.WorkspaceDir == "" {
		req.WorkspaceDir = p.deps.Workspace.Dir()
	}
	if req.PythonExe == "" {
		req.PythonExe = p.deps.Python.Path()
	}
	if req.PythonTag == "" {
		tag, err := p.deps.Python.VersionTag(ctx)
		if err != nil {
			return builderr.Wrap(builderr.ErrPrerequisiteMissing, err, "query python version")
		}
		req.PythonTag = tag
	}
	if req.OptionFlags == nil {
		req.OptionFlags = config.DefaultOptionFlags()
	}
	return req.Validate()
}

func (p *Pipeline) logBanner(ctx context.Context, req config.BuildRequest) {
	buildlog.Linef(p.deps.Sink, "Build Environment:")
	buildlog.Linef(p.deps.Sink, "Python: %s (py%s)", req.PythonExe, req.PythonTag)
	if info, err := p.deps.Python.TorchInfo(ctx); err == nil && info.Installed {
		device := "cpu"
		if info.CudaAvailable {
			device = "cuda " + info.CudaVersion
		}
		buildlog.Linef(p.deps.Sink, "PyTorch: %s (%s)", info.Version, device)
	}
	buildlog.Linef(p.deps.Sink, "Selected CUDA Version: %s", req.ToolkitVersion)
	buildlog.Linef(p.deps.Sink, "Building DeepSpeed Version: %s", req.PackageVersion)
}

// advance moves the run forward and publishes the stage transition. A
// transition rejection is a pipeline defect, logged loudly but not silently
// swallowed into run state.
func (p *Pipeline) advance(ctx context.Context, run *Run, to Stage, progress float64, status string) {
	if err := run.advance(to, progress, status); err != nil {
		p.logger.Error("stage transition rejected", "error", err)
		return
	}
	p.deps.Hub.Publish(events.TypeStage, run.Snapshot())
	if p.deps.History != nil {
		if err := p.deps.History.SetStage(ctx, run.Snapshot().ID, string(to)); err != nil {
			p.logger.Warn("could not record stage", "error", err)
		}
	}
}

func (p *Pipeline) failRun(ctx context.Context, run *Run, err error) Outcome {
	stage := run.Snapshot().Stage
	run.fail(err, "Build failed!")
	buildlog.Linef(p.deps.Sink, "Error during build: %v", err)
	p.deps.Hub.Publish(events.TypeRunFinished, run.Snapshot())
	if p.deps.History != nil {
		if herr := p.deps.History.Finish(ctx, run.Snapshot().ID, string(stage), "failed", "", "", err.Error()); herr != nil {
			p.logger.Warn("could not record run failure", "error", herr)
		}
	}
	return Outcome{Message: err.Error(), Err: err}
}

// prereqError maps the first unsatisfied finding to its taxonomy kind.
func prereqError(r doctor.Report) error {
	if r.AllSatisfied {
		return nil
	}
	for _, f := range r.Findings {
		if f.Satisfied {
			continue
		}
		switch f.Subject {
		case "toolchain":
			return builderr.New(builderr.ErrToolchainNotFound, "%s", f.Detail)
		case "cuda_toolkit", "nvcc":
			return builderr.New(builderr.ErrComputeToolkitMissing, "%s", f.Detail)
		default:
			return builderr.New(builderr.ErrPrerequisiteMissing, "%s: %s", f.Subject, f.Detail)
		}
	}
	return nil
}
