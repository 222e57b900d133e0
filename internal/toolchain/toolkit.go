package toolchain

import (
	"sort"
	"strings"
)

// cudaBase is where the CUDA installer puts versioned toolkit roots.
const cudaBase = `C:\Program Files\NVIDIA GPU Computing Toolkit\CUDA`

// candidateToolkits is the fixed fallback list offered when no install is
// found on disk.
var candidateToolkits = []string{"12.4", "12.1", "11.8"}

// ToolkitProfile is one selected CUDA toolkit install.
type ToolkitProfile struct {
	Version     string
	InstallRoot string
}

// ToolkitRoot returns the install root for a toolkit version. The path is
// fixed by the CUDA installer layout; existence is not checked here.
func ToolkitRoot(version string) string {
	return cudaBase + `\v` + version
}

// NvccPath returns the toolkit's compiler executable location.
func NvccPath(version string) string {
	return ToolkitRoot(version) + `\bin\nvcc.exe`
}

// ToolkitInstalled reports whether the toolkit root for version exists.
func (l *Locator) ToolkitInstalled(version string) (ToolkitProfile, bool) {
	root := ToolkitRoot(version)
	if _, err := l.prober.DirEntries(root); err != nil {
		return ToolkitProfile{}, false
	}
	return ToolkitProfile{Version: version, InstallRoot: root}, true
}

// NvccInstalled reports whether the toolkit's nvcc compiler is present.
func (l *Locator) NvccInstalled(version string) bool {
	return l.prober.FileExists(NvccPath(version))
}

// ListToolkits returns selectable toolkit versions: those found on disk,
// newest first, followed by fixed candidates not already present. The caller
// selects; the locator never picks.
func (l *Locator) ListToolkits() []string {
	var found []string
	entries, err := l.prober.DirEntries(cudaBase)
	if err == nil {
		for _, name := range entries {
			if strings.HasPrefix(name, "v") && len(name) > 1 {
				found = append(found, name[1:])
			}
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(found)))

	seen := make(map[string]bool, len(found))
	for _, v := range found {
		seen[v] = true
	}
	for _, v := range candidateToolkits {
		if !seen[v] {
			found = append(found, v)
			seen[v] = true
		}
	}
	return found
}
