package buildexec

import (
	"strings"
	"testing"

	"github.com/mattjoyce/wheelforge/internal/config"
	"github.com/mattjoyce/wheelforge/internal/toolchain"
)

func testRequest() config.BuildRequest {
	flags := config.DefaultOptionFlags()
	flags["DS_BUILD_SPARSE_ATTN"] = true
	return config.BuildRequest{
		PackageVersion: "0.14.0",
		ToolkitVersion: "12.1",
		WorkspaceDir:   `C:\work\deepspeed`,
		PythonExe:      `C:\Python312\python.exe`,
		PythonTag:      "312",
		OptionFlags:    flags,
	}
}

func testToolchain() toolchain.Profile {
	return toolchain.Profile{
		Name:        "VS2022 BuildTools",
		InstallRoot: `C:\Program Files\Microsoft Visual Studio\2022\BuildTools`,
		EnvScript:   `C:\Program Files\Microsoft Visual Studio\2022\BuildTools\VC\Auxiliary\Build\vcvars64.bat`,
	}
}

func TestScriptContent(t *testing.T) {
	got := Script(testRequest(), testToolchain())

	wantLines := []string{
		"@echo off",
		"chcp 65001",
		"set PYTHONUTF8=1",
		"set PYTHONIOENCODING=utf-8",
		`call "C:\Program Files\Microsoft Visual Studio\2022\BuildTools\VC\Auxiliary\Build\vcvars64.bat"`,
		"set DS_BUILD_STRING=nogit",
		`set CUDA_PATH=C:\Program Files\NVIDIA GPU Computing Toolkit\CUDA\v12.1`,
		"set CUDA_HOME=%CUDA_PATH%",
		"set DISTUTILS_USE_SDK=1",
		"set DS_BUILD_AIO=0",
		"set DS_BUILD_CUTLASS_OPS=0",
		"set DS_BUILD_EVOFORMER_ATTN=0",
		"set DS_BUILD_FP_QUANTIZER=0",
		"set DS_BUILD_RAGGED_DEVICE_OPS=0",
		"set DS_BUILD_SPARSE_ATTN=1",
		"set DS_BUILD_TRANSFORMER_INFERENCE=0",
		"echo ============ Environment Variables ============",
		"echo CUDA_PATH=%CUDA_PATH%",
		"echo CUDA_HOME=%CUDA_HOME%",
		"echo PATH=%PATH%",
		"echo INCLUDE=%INCLUDE%",
		"echo Platform: %VSCMD_ARG_TGT_ARCH%",
		"echo ============================================",
		`cd /d "C:\work\deepspeed"`,
		`"C:\Python312\python.exe" setup.py bdist_wheel`,
		"if errorlevel 1 exit /b 1",
	}

	gotLines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if len(gotLines) != len(wantLines) {
		t.Fatalf("script has %d lines, want %d:\n%s", len(gotLines), len(wantLines), got)
	}
	for i := range wantLines {
		if gotLines[i] != wantLines[i] {
			t.Errorf("line %d = %q, want %q", i+1, gotLines[i], wantLines[i])
		}
	}
}

func TestScriptIsReproducible(t *testing.T) {
	req := testRequest()
	tc := testToolchain()
	if Script(req, tc) != Script(req, tc) {
		t.Fatal("Script() is not byte-for-byte reproducible")
	}
}

func TestScriptFlagOrderIndependentOfMapOrder(t *testing.T) {
	a := testRequest()
	b := testRequest()
	// Rebuild the map in a different insertion order.
	b.OptionFlags = map[string]bool{}
	for _, name := range []string{
		"DS_BUILD_TRANSFORMER_INFERENCE",
		"DS_BUILD_AIO",
		"DS_BUILD_SPARSE_ATTN",
		"DS_BUILD_RAGGED_DEVICE_OPS",
		"DS_BUILD_CUTLASS_OPS",
		"DS_BUILD_FP_QUANTIZER",
		"DS_BUILD_EVOFORMER_ATTN",
	} {
		b.OptionFlags[name] = a.OptionFlags[name]
	}

	if Script(a, testToolchain()) != Script(b, testToolchain()) {
		t.Fatal("Script() output depends on flag map insertion order")
	}
}
