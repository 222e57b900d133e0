package config

import (
	"fmt"
	"sort"
)

// BuildRequest is the immutable per-run build configuration. It is assembled
// by the caller before any stage runs and passed into each stage explicitly.
type BuildRequest struct {
	PackageVersion string
	ToolkitVersion string
	WorkspaceDir   string
	PythonExe      string
	// PythonTag is the running interpreter's major/minor digits ("312").
	PythonTag string
	// OptionFlags maps build flag name to enabled. Unset flags are disabled.
	OptionFlags map[string]bool
}

// Validate checks the request is complete enough to start a pipeline run.
func (r BuildRequest) Validate() error {
	if r.PackageVersion == "" {
		return fmt.Errorf("package version is empty")
	}
	if r.ToolkitVersion == "" {
		return fmt.Errorf("toolkit version is empty")
	}
	if r.WorkspaceDir == "" {
		return fmt.Errorf("workspace directory is empty")
	}
	return nil
}

// FlagNames returns the option flag names in sorted order, for deterministic
// script generation.
func (r BuildRequest) FlagNames() []string {
	names := make([]string, 0, len(r.OptionFlags))
	for name := range r.OptionFlags {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultOptionFlags returns the full flag set, all disabled. These are the
// optional native ops the upstream build can compile in; they are known to
// break Windows builds and default off.
func DefaultOptionFlags() map[string]bool {
	return map[string]bool{
		"DS_BUILD_AIO":                   false,
		"DS_BUILD_CUTLASS_OPS":           false,
		"DS_BUILD_EVOFORMER_ATTN":        false,
		"DS_BUILD_FP_QUANTIZER":          false,
		"DS_BUILD_RAGGED_DEVICE_OPS":     false,
		"DS_BUILD_SPARSE_ATTN":           false,
		"DS_BUILD_TRANSFORMER_INFERENCE": false,
	}
}
