package toolchain

import (
	"errors"
	"reflect"
	"testing"
)

// fakeProber simulates a machine from fixed file, directory, and registry
// contents.
type fakeProber struct {
	files    map[string]bool
	dirs     map[string][]string
	registry map[string]string
}

func (f *fakeProber) FileExists(path string) bool { return f.files[path] }

func (f *fakeProber) DirEntries(path string) ([]string, error) {
	entries, ok := f.dirs[path]
	if !ok {
		return nil, errors.New("no such directory")
	}
	return entries, nil
}

func (f *fakeProber) ReadRegistryValue(key, name string) (string, bool) {
	v, ok := f.registry[key+"\\"+name]
	return v, ok
}

func TestLocateWellKnownRoot(t *testing.T) {
	p := &fakeProber{files: map[string]bool{
		`C:\Program Files\Microsoft Visual Studio\2022\BuildTools\VC\Auxiliary\Build\vcvars64.bat`: true,
	}}
	loc := NewLocator(p)

	profile, ok := loc.Locate()
	if !ok {
		t.Fatal("Locate() found nothing, want VS2022 BuildTools")
	}
	if profile.Name != "VS2022 BuildTools" {
		t.Errorf("Locate() name = %q, want %q", profile.Name, "VS2022 BuildTools")
	}
	if profile.EnvScript != `C:\Program Files\Microsoft Visual Studio\2022\BuildTools\VC\Auxiliary\Build\vcvars64.bat` {
		t.Errorf("Locate() env script = %q", profile.EnvScript)
	}
}

func TestLocatePriorityOrderIsFixed(t *testing.T) {
	// Both 2019 BuildTools and 2022 Community exist; 2019 BuildTools wins
	// because the candidate order is fixed, not newest-first.
	p := &fakeProber{files: map[string]bool{
		`C:\Program Files (x86)\Microsoft Visual Studio\2019\BuildTools\VC\Auxiliary\Build\vcvars64.bat`: true,
		`C:\Program Files\Microsoft Visual Studio\2022\Community\VC\Auxiliary\Build\vcvars64.bat`:        true,
	}}

	profile, ok := NewLocator(p).Locate()
	if !ok {
		t.Fatal("Locate() found nothing")
	}
	if profile.Name != "VS2019 BuildTools" {
		t.Errorf("Locate() name = %q, want VS2019 BuildTools", profile.Name)
	}
}

func TestLocateRegistryFallback(t *testing.T) {
	// InstallDir points below the edition root; the locator must check the
	// parent directory for the env script. Trailing separator included on
	// purpose: registry values often carry one.
	p := &fakeProber{
		files: map[string]bool{
			`D:\VS\2022\Community\VC\Auxiliary\Build\vcvars64.bat`: true,
		},
		registry: map[string]string{
			`SOFTWARE\Microsoft\VisualStudio\Setup\Community\InstallDir`: `D:\VS\2022\Community\Common7\`,
		},
	}

	profile, ok := NewLocator(p).Locate()
	if !ok {
		t.Fatal("Locate() found nothing, want registry fallback hit")
	}
	if profile.Name != "VS2022 Community" {
		t.Errorf("Locate() name = %q, want VS2022 Community", profile.Name)
	}
	if profile.InstallRoot != `D:\VS\2022\Community` {
		t.Errorf("Locate() root = %q, want D:\\VS\\2022\\Community", profile.InstallRoot)
	}
}

func TestLocateRegistryValueWithoutScriptIsSkipped(t *testing.T) {
	p := &fakeProber{
		registry: map[string]string{
			`SOFTWARE\Microsoft\VisualStudio\Setup\Community\InstallDir`: `D:\VS\2022\Community\Common7\`,
		},
	}
	if _, ok := NewLocator(p).Locate(); ok {
		t.Fatal("Locate() returned a profile whose env script does not exist")
	}
}

func TestLocateNothingInstalled(t *testing.T) {
	if _, ok := NewLocator(&fakeProber{}).Locate(); ok {
		t.Fatal("Locate() found a toolchain on an empty machine")
	}
}

func TestParentDir(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`C:\VS\Common7\`, `C:\VS`},
		{`C:\VS\Common7`, `C:\VS`},
		{`C:\`, `C:`},
		{`plain`, `plain`},
	}
	for _, tt := range tests {
		if got := parentDir(tt.in); got != tt.want {
			t.Errorf("parentDir(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestToolkitInstalled(t *testing.T) {
	p := &fakeProber{
		dirs: map[string][]string{
			`C:\Program Files\NVIDIA GPU Computing Toolkit\CUDA\v12.1`: {"bin", "include"},
		},
		files: map[string]bool{
			`C:\Program Files\NVIDIA GPU Computing Toolkit\CUDA\v12.1\bin\nvcc.exe`: true,
		},
	}
	loc := NewLocator(p)

	profile, ok := loc.ToolkitInstalled("12.1")
	if !ok {
		t.Fatal("ToolkitInstalled(12.1) = false, want true")
	}
	if profile.InstallRoot != `C:\Program Files\NVIDIA GPU Computing Toolkit\CUDA\v12.1` {
		t.Errorf("ToolkitInstalled root = %q", profile.InstallRoot)
	}
	if !loc.NvccInstalled("12.1") {
		t.Error("NvccInstalled(12.1) = false, want true")
	}

	if _, ok := loc.ToolkitInstalled("11.8"); ok {
		t.Error("ToolkitInstalled(11.8) = true for an absent toolkit")
	}
	if loc.NvccInstalled("11.8") {
		t.Error("NvccInstalled(11.8) = true for an absent toolkit")
	}
}

func TestListToolkitsMergesDiskAndCandidates(t *testing.T) {
	p := &fakeProber{
		dirs: map[string][]string{
			`C:\Program Files\NVIDIA GPU Computing Toolkit\CUDA`: {"v11.8", "v12.6", "doc"},
		},
	}

	got := NewLocator(p).ListToolkits()
	want := []string{"12.6", "11.8", "12.4", "12.1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ListToolkits() = %v, want %v", got, want)
	}
}

func TestListToolkitsNoInstallBase(t *testing.T) {
	got := NewLocator(&fakeProber{}).ListToolkits()
	want := []string{"12.4", "12.1", "11.8"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ListToolkits() = %v, want %v", got, want)
	}
}
