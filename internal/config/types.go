package config

import "sort"

// Config represents the complete wheelforge manifest (wheelforge.yaml).
type Config struct {
	Versions  map[string]VersionInfo `yaml:"versions"`
	Source    SourceConfig           `yaml:"source"`
	Workspace WorkspaceConfig        `yaml:"workspace"`
	Python    PythonConfig           `yaml:"python"`
	Log       LogConfig              `yaml:"log"`
	API       APIConfig              `yaml:"api"`
	History   HistoryConfig          `yaml:"history"`
}

// VersionInfo is the metadata recorded for one buildable package version.
type VersionInfo struct {
	Notes string `yaml:"notes,omitempty"`
	// Cuda lists toolkit versions this release is known to build against.
	Cuda []string `yaml:"cuda,omitempty"`
}

// SourceConfig identifies the upstream archive location. The download URL is
// always of the form https://github.com/<owner>/<repo>/archive/v<ver>.zip.
type SourceConfig struct {
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
}

// WorkspaceConfig defines where the staged source tree lives.
type WorkspaceConfig struct {
	Dir string `yaml:"dir"`
}

// PythonConfig selects the interpreter driving the build and installs.
type PythonConfig struct {
	// Interpreter overrides PATH lookup when set.
	Interpreter string `yaml:"interpreter,omitempty"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
	// BuildLog is the durable line-oriented build output file.
	BuildLog string `yaml:"build_log"`
}

// APIConfig defines the local status HTTP server.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// HistoryConfig defines the run-ledger database location.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// AvailableVersions returns the selectable package versions in ascending
// order.
func (c *Config) AvailableVersions() []string {
	out := make([]string, 0, len(c.Versions))
	for v := range c.Versions {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// HasVersion reports whether version is listed in the manifest.
func (c *Config) HasVersion(version string) bool {
	_, ok := c.Versions[version]
	return ok
}
