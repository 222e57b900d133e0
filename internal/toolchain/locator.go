// Package toolchain discovers installed Visual Studio C++ toolchains and CUDA
// compute toolkits. Discovery is ordered and first-match: no scoring, no
// "best" selection.
package toolchain

import "strings"

// envScriptRel is the 64-bit environment-initialization script checked for
// beneath every candidate install root.
const envScriptRel = `\VC\Auxiliary\Build\vcvars64.bat`

// Profile identifies one discovered toolchain instance. Immutable; recomputed
// on every Locate call rather than cached.
type Profile struct {
	Name        string
	InstallRoot string
	EnvScript   string
}

// wellKnownRoots are checked first, in this exact order.
var wellKnownRoots = []struct {
	name string
	root string
}{
	{"VS2019 BuildTools", `C:\Program Files (x86)\Microsoft Visual Studio\2019\BuildTools`},
	{"VS2019 Community", `C:\Program Files (x86)\Microsoft Visual Studio\2019\Community`},
	{"VS2022 BuildTools", `C:\Program Files\Microsoft Visual Studio\2022\BuildTools`},
	{"VS2022 Community", `C:\Program Files\Microsoft Visual Studio\2022\Community`},
}

// registryCandidates are consulted when no well-known root matches, newest
// generation/edition first. InstallDir points below the edition root, so the
// env-script check runs against the value's parent directory.
var registryCandidates = []struct {
	key     string
	edition string
	version string
}{
	{`SOFTWARE\Microsoft\VisualStudio\Setup\Community`, "Community", "2022"},
	{`SOFTWARE\Microsoft\VisualStudio\Setup\BuildTools`, "BuildTools", "2022"},
	{`SOFTWARE\WOW6432Node\Microsoft\VisualStudio\Setup\Community`, "Community", "2019"},
	{`SOFTWARE\WOW6432Node\Microsoft\VisualStudio\Setup\BuildTools`, "BuildTools", "2019"},
}

// Locator finds toolchain and toolkit installs through a Prober.
type Locator struct {
	prober Prober
}

func NewLocator(p Prober) *Locator {
	return &Locator{prober: p}
}

// Locate returns the first toolchain whose environment script exists, in
// fixed priority order, or false when none is installed. Callers must treat
// the false return as a prerequisite failure, not an error.
func (l *Locator) Locate() (Profile, bool) {
	for _, c := range wellKnownRoots {
		script := c.root + envScriptRel
		if l.prober.FileExists(script) {
			return Profile{Name: c.name, InstallRoot: c.root, EnvScript: script}, true
		}
	}

	for _, c := range registryCandidates {
		installDir, ok := l.prober.ReadRegistryValue(c.key, "InstallDir")
		if !ok {
			continue
		}
		root := parentDir(installDir)
		script := root + envScriptRel
		if l.prober.FileExists(script) {
			return Profile{
				Name:        "VS" + c.version + " " + c.edition,
				InstallRoot: root,
				EnvScript:   script,
			}, true
		}
	}

	return Profile{}, false
}

// parentDir returns the parent of a backslash-separated Windows path.
// Registry values often carry a trailing separator.
func parentDir(p string) string {
	p = strings.TrimRight(p, `\`)
	i := strings.LastIndex(p, `\`)
	if i <= 0 {
		return p
	}
	return p[:i]
}
