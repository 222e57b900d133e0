package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/wheelforge/internal/api"
	"github.com/mattjoyce/wheelforge/internal/artifact"
	"github.com/mattjoyce/wheelforge/internal/buildexec"
	"github.com/mattjoyce/wheelforge/internal/buildlog"
	"github.com/mattjoyce/wheelforge/internal/config"
	"github.com/mattjoyce/wheelforge/internal/doctor"
	"github.com/mattjoyce/wheelforge/internal/events"
	"github.com/mattjoyce/wheelforge/internal/fetch"
	"github.com/mattjoyce/wheelforge/internal/history"
	"github.com/mattjoyce/wheelforge/internal/log"
	"github.com/mattjoyce/wheelforge/internal/pipeline"
	"github.com/mattjoyce/wheelforge/internal/pyenv"
	"github.com/mattjoyce/wheelforge/internal/toolchain"
	"github.com/mattjoyce/wheelforge/internal/tui/watch"
	"github.com/mattjoyce/wheelforge/internal/workspace"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const defaultConfigPath = "wheelforge.yaml"

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	case "doctor":
		if hasHelpFlag(args) {
			printDoctorHelp()
			return 0
		}
		return runDoctor(args)
	case "build":
		if hasHelpFlag(args) {
			printBuildHelp()
			return 0
		}
		return runBuild(args, false)
	case "run":
		if hasHelpFlag(args) {
			printRunHelp()
			return 0
		}
		return runBuild(args, true)
	case "install":
		if hasHelpFlag(args) {
			printInstallHelp()
			return 0
		}
		return runInstall(args)
	case "history":
		if hasHelpFlag(args) {
			printHistoryHelp()
			return 0
		}
		return runHistory(args)
	case "config":
		return runConfigNoun(args)
	case "serve":
		if hasHelpFlag(args) {
			printServeHelp()
			return 0
		}
		return runServe(args)
	case "watch":
		if hasHelpFlag(args) {
			printWatchHelp()
			return 0
		}
		return runWatch(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

// --- NOUN DISPATCHERS ---

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "help":
		printConfigNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

// --- ACTION IMPLEMENTATIONS ---

// optFlags collects repeatable --opt values.
type optFlags []string

func (o *optFlags) String() string { return strings.Join(*o, ",") }

func (o *optFlags) Set(v string) error {
	*o = append(*o, v)
	return nil
}

// env bundles everything a build or install run needs.
type env struct {
	cfg       *config.Config
	locator   *toolchain.Locator
	python    *pyenv.Interpreter
	hub       *events.Hub
	fileSink  *buildlog.FileSink
	pipe      *pipeline.Pipeline
	histStore *history.Store
}

func (e *env) close() {
	if e.fileSink != nil {
		e.fileSink.Close()
	}
	if e.histStore != nil {
		e.histStore.Close()
	}
}

// setupEnv loads the manifest and wires the pipeline collaborators. A
// non-empty workspaceDir overrides the manifest's workspace for this
// invocation so the lock, reset, and archive sibling all follow it.
func setupEnv(ctx context.Context, configPath, workspaceDir string) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if workspaceDir != "" {
		cfg.Workspace.Dir = workspaceDir
	}
	log.Setup(cfg.Log.Level)

	python, err := pyenv.Resolve(cfg.Python.Interpreter)
	if err != nil {
		return nil, err
	}

	ws, err := workspace.NewManager(cfg.Workspace.Dir)
	if err != nil {
		return nil, err
	}

	hub := events.NewHub(256)
	fileSink, err := buildlog.NewFileSink(cfg.Log.BuildLog)
	if err != nil {
		return nil, err
	}
	sink := buildlog.Multi(
		&buildlog.WriterSink{W: os.Stdout},
		fileSink,
		&buildlog.HubSink{Hub: hub},
	)

	var hist *history.Store
	if cfg.History.Path != "" {
		hist, err = history.Open(ctx, cfg.History.Path)
		if err != nil {
			fileSink.Close()
			return nil, fmt.Errorf("open history: %w", err)
		}
	}

	locator := toolchain.NewLocator(toolchain.NewProber())
	pipe := pipeline.New(pipeline.Deps{
		Config:    cfg,
		Locator:   locator,
		Python:    python,
		Workspace: ws,
		Fetcher:   fetch.New(cfg.Source, sink),
		Executor:  buildexec.NewExecutor(sink),
		Artifacts: artifact.NewManager(ws.ArchiveDir(), python, sink),
		History:   hist,
		Hub:       hub,
		Sink:      sink,
	})

	return &env{
		cfg:       cfg,
		locator:   locator,
		python:    python,
		hub:       hub,
		fileSink:  fileSink,
		pipe:      pipe,
		histStore: hist,
	}, nil
}

// buildRequest assembles a BuildRequest from CLI flags. The empty toolkit
// version resolves to the newest installed CUDA toolkit.
func buildRequest(e *env, pkgVersion, cudaVersion string, opts optFlags) (config.BuildRequest, error) {
	if cudaVersion == "" {
		for _, v := range e.locator.ListToolkits() {
			if _, ok := e.locator.ToolkitInstalled(v); ok {
				cudaVersion = v
				break
			}
		}
	}
	if cudaVersion == "" {
		return config.BuildRequest{}, errors.New("no CUDA toolkit found; select one with --cuda")
	}

	flags := config.DefaultOptionFlags()
	for _, name := range opts {
		if _, ok := flags[name]; !ok {
			return config.BuildRequest{}, fmt.Errorf("unknown option flag %q", name)
		}
		flags[name] = true
	}

	return config.BuildRequest{
		PackageVersion: pkgVersion,
		ToolkitVersion: cudaVersion,
		OptionFlags:    flags,
	}, nil
}

func runDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to manifest file")
	cudaVersion := fs.String("cuda", "", "CUDA toolkit version to check (default: newest installed)")
	jsonOut := fs.Bool("json", false, "Output findings as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx := signalContext()
	e, err := setupEnv(ctx, *configPath, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer e.close()

	cuda := *cudaVersion
	if cuda == "" {
		if list := e.locator.ListToolkits(); len(list) > 0 {
			cuda = list[0]
		}
	}

	d := doctor.New(e.locator, e.python)
	report := d.Check(ctx, config.BuildRequest{ToolkitVersion: cuda})

	if *jsonOut {
		out, err := doctor.FormatJSON(report)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(report))
	}

	if !report.AllSatisfied {
		return 1
	}
	return 0
}

func runBuild(args []string, install bool) int {
	name := "build"
	if install {
		name = "run"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to manifest file")
	pkgVersion := fs.String("version", "", "Package version to build (required)")
	cudaVersion := fs.String("cuda", "", "CUDA toolkit version (default: newest installed)")
	workspaceDir := fs.String("workspace", "", "Override the workspace directory")
	listen := fs.String("listen", "", "Also serve the status API on this address during the run")
	var opts optFlags
	fs.Var(&opts, "opt", "Enable a DS_BUILD_* option flag (repeatable)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *pkgVersion == "" {
		fmt.Fprintf(os.Stderr, "Error: --version is required\nUsage: wheelforge %s --version V [flags]\n", name)
		return 1
	}

	ctx := signalContext()
	e, err := setupEnv(ctx, *configPath, *workspaceDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer e.close()

	req, err := buildRequest(e, *pkgVersion, *cudaVersion, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *listen != "" {
		serveDuring(ctx, e, *listen)
	}

	var outcome pipeline.Outcome
	if install {
		outcome = e.pipe.BuildAndInstall(ctx, req)
	} else {
		outcome = e.pipe.BuildOnly(ctx, req)
	}
	if !outcome.OK {
		fmt.Fprintf(os.Stderr, "Error: %s\n", outcome.Message)
		return 1
	}
	return 0
}

func runInstall(args []string) int {
	fs := flag.NewFlagSet("install", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to manifest file")
	pkgVersion := fs.String("version", "", "Package version the workspace was built from (required)")
	cudaVersion := fs.String("cuda", "", "CUDA toolkit version (default: newest installed)")
	workspaceDir := fs.String("workspace", "", "Override the workspace directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *pkgVersion == "" {
		fmt.Fprintln(os.Stderr, "Error: --version is required\nUsage: wheelforge install --version V [flags]")
		return 1
	}

	ctx := signalContext()
	e, err := setupEnv(ctx, *configPath, *workspaceDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer e.close()

	req, err := buildRequest(e, *pkgVersion, *cudaVersion, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	outcome := e.pipe.InstallExisting(ctx, req)
	if !outcome.OK {
		fmt.Fprintf(os.Stderr, "Error: %s\n", outcome.Message)
		return 1
	}
	return 0
}

func runHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to manifest file")
	limit := fs.Int("n", 20, "Number of runs to show")
	jsonOut := fs.Bool("json", false, "Output runs as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	log.Setup(cfg.Log.Level)

	ctx := signalContext()
	store, err := history.Open(ctx, cfg.History.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	runs, err := store.Recent(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(runs, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	if len(runs) == 0 {
		fmt.Println("No recorded runs.")
		return 0
	}
	for _, r := range runs {
		started := r.StartedAt
		if t, err := time.Parse(time.RFC3339Nano, r.StartedAt); err == nil {
			started = t.Local().Format("2006-01-02 15:04")
		}
		line := fmt.Sprintf("%s  %-9s  deepspeed %-8s cuda %-5s py%-4s %s",
			started, r.Status,
			r.PackageVersion, r.ToolkitVersion, r.PythonTag, r.Stage)
		if r.LastError != nil {
			line += "  " + *r.LastError
		}
		fmt.Println(line)
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("config lock", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to manifest file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if err := config.Lock(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println("Configuration locked: integrity hashes updated.")
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("config check", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to manifest file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		return 1
	}
	fmt.Printf("Configuration OK: %d buildable version(s): %s\n",
		len(cfg.Versions), strings.Join(cfg.AvailableVersions(), ", "))
	return 0
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to manifest file")
	listen := fs.String("listen", "", "Listen address (default: api.listen from the manifest)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx := signalContext()
	e, err := setupEnv(ctx, *configPath, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer e.close()

	addr := *listen
	if addr == "" {
		addr = e.cfg.API.Listen
	}

	srv := api.New(api.Config{Listen: addr}, e.pipe, e.historyReader(), e.hub, log.WithComponent("api"))
	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// historyReader returns a nil interface, not a typed nil, when history is
// disabled.
func (e *env) historyReader() api.HistoryReader {
	if e.histStore == nil {
		return nil
	}
	return e.histStore
}

// serveDuring starts the status API in the background for the lifetime of the
// surrounding command.
func serveDuring(ctx context.Context, e *env, addr string) {
	srv := api.New(api.Config{Listen: addr}, e.pipe, e.historyReader(), e.hub, log.WithComponent("api"))
	go func() {
		if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("status API stopped", "error", err)
		}
	}()
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8844", "Build server API URL")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	m := watch.New(*apiURL)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("wheelforge %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalized
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

// signalContext cancels on SIGINT/SIGTERM so a running build exits its
// subprocess and releases the workspace lock.
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx
}

// --- HELP ---

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printUsage() {
	fmt.Print(`wheelforge - Build DeepSpeed wheels from source on Windows

Usage:
  wheelforge <command> [flags]

Commands:
  doctor        Check build prerequisites (toolchain, CUDA, python, torch)
  build         Download, build, and archive a wheel
  run           Build and install a wheel in one pass
  install       Install a previously built wheel from the workspace
  history       Show recorded build runs
  config lock   Authorize current manifest state (update integrity hashes)
  config check  Validate manifest syntax and integrity
  serve         Run the local status API server
  watch         Real-time build monitor TUI
  version       Show version information
  help          Show this help message

Use 'wheelforge <command> --help' for command-specific flags.
`)
}

func printDoctorHelp() {
	fmt.Println("Usage: wheelforge doctor [--config PATH] [--cuda V] [--json]")
	fmt.Println("Check build prerequisites and report remediation hints.")
	fmt.Println("Missing ninja/psutil packages are installed automatically.")
}

func printBuildHelp() {
	fmt.Println("Usage: wheelforge build --version V [--cuda V] [--workspace DIR] [--opt FLAG]... [--listen ADDR]")
	fmt.Println("Download the source archive, build the wheel, and archive it.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --version V      Package version from the manifest (required)")
	fmt.Println("  --cuda V         CUDA toolkit version (default: newest installed)")
	fmt.Println("  --workspace DIR  Override the workspace directory")
	fmt.Println("  --opt FLAG       Enable a DS_BUILD_* option flag (repeatable)")
	fmt.Println("  --listen ADDR    Also serve the status API during the run")
}

func printRunHelp() {
	fmt.Println("Usage: wheelforge run --version V [--cuda V] [--workspace DIR] [--opt FLAG]... [--listen ADDR]")
	fmt.Println("Build and install the wheel in one pass (install uses --force-reinstall).")
}

func printInstallHelp() {
	fmt.Println("Usage: wheelforge install --version V [--cuda V] [--workspace DIR]")
	fmt.Println("Install the wheel left in the workspace by a previous build.")
}

func printHistoryHelp() {
	fmt.Println("Usage: wheelforge history [-n N] [--json]")
	fmt.Println("Show recorded build runs, newest first.")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: wheelforge config <action>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Actions:")
	fmt.Fprintln(w, "  lock    Authorize current manifest state (update integrity hashes)")
	fmt.Fprintln(w, "  check   Validate manifest syntax and integrity")
}

func printConfigLockHelp() {
	fmt.Println("Usage: wheelforge config lock [--config PATH]")
	fmt.Println("Regenerate the manifest's BLAKE3 integrity hashes.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: wheelforge config check [--config PATH]")
	fmt.Println("Validate manifest syntax and integrity.")
}

func printServeHelp() {
	fmt.Println("Usage: wheelforge serve [--config PATH] [--listen ADDR]")
	fmt.Println("Run the local status API server (healthz, status, history, SSE events).")
}

func printWatchHelp() {
	fmt.Println("Usage: wheelforge watch [--api-url URL]")
	fmt.Println()
	fmt.Println("Real-time build monitor TUI.")
	fmt.Println("Shows the active run's stage, progress, and streamed build output.")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Scroll build output")
}
