package buildexec

import (
	"fmt"
	"strings"

	"github.com/mattjoyce/wheelforge/internal/config"
	"github.com/mattjoyce/wheelforge/internal/toolchain"
)

// ScriptName is the transient build script written into the workspace and
// deleted after use.
const ScriptName = "run_build.bat"

// Script synthesizes the self-contained build script. It is the wire format
// between the orchestrator and the native build tool and must stay
// byte-for-byte reproducible from (request, toolchain): option flags are
// emitted in sorted order and every path comes from the inputs.
func Script(req config.BuildRequest, tc toolchain.Profile) string {
	var b strings.Builder

	b.WriteString("@echo off\n")
	// UTF-8 for the console and for Python I/O, so build output survives the
	// line-oriented log intact.
	b.WriteString("chcp 65001\n")
	b.WriteString("set PYTHONUTF8=1\n")
	b.WriteString("set PYTHONIOENCODING=utf-8\n")
	// 64-bit environment.
	fmt.Fprintf(&b, "call \"%s\"\n", tc.EnvScript)
	// Skip source-control version detection in the native build.
	b.WriteString("set DS_BUILD_STRING=nogit\n")
	fmt.Fprintf(&b, "set CUDA_PATH=%s\n", toolchain.ToolkitRoot(req.ToolkitVersion))
	b.WriteString("set CUDA_HOME=%CUDA_PATH%\n")
	b.WriteString("set DISTUTILS_USE_SDK=1\n")
	for _, name := range req.FlagNames() {
		v := 0
		if req.OptionFlags[name] {
			v = 1
		}
		fmt.Fprintf(&b, "set %s=%d\n", name, v)
	}
	// Echo the resulting environment for diagnosis.
	b.WriteString("echo ============ Environment Variables ============\n")
	b.WriteString("echo CUDA_PATH=%CUDA_PATH%\n")
	b.WriteString("echo CUDA_HOME=%CUDA_HOME%\n")
	b.WriteString("echo PATH=%PATH%\n")
	b.WriteString("echo INCLUDE=%INCLUDE%\n")
	b.WriteString("echo Platform: %VSCMD_ARG_TGT_ARCH%\n")
	b.WriteString("echo ============================================\n")
	fmt.Fprintf(&b, "cd /d \"%s\"\n", req.WorkspaceDir)
	fmt.Fprintf(&b, "\"%s\" setup.py bdist_wheel\n", req.PythonExe)
	b.WriteString("if errorlevel 1 exit /b 1\n")

	return b.String()
}
