package config

import (
	"reflect"
	"testing"
)

func TestBuildRequestValidate(t *testing.T) {
	valid := BuildRequest{
		PackageVersion: "0.14.0",
		ToolkitVersion: "12.1",
		WorkspaceDir:   `C:\work\deepspeed`,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() on complete request error = %v", err)
	}

	tests := []struct {
		name string
		req  BuildRequest
	}{
		{"missing package version", BuildRequest{ToolkitVersion: "12.1", WorkspaceDir: "x"}},
		{"missing toolkit version", BuildRequest{PackageVersion: "0.14.0", WorkspaceDir: "x"}},
		{"missing workspace", BuildRequest{PackageVersion: "0.14.0", ToolkitVersion: "12.1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.req.Validate(); err == nil {
				t.Error("Validate() accepted an incomplete request")
			}
		})
	}
}

func TestFlagNamesSorted(t *testing.T) {
	req := BuildRequest{OptionFlags: map[string]bool{
		"DS_BUILD_SPARSE_ATTN": true,
		"DS_BUILD_AIO":         false,
		"DS_BUILD_CUTLASS_OPS": true,
	}}
	want := []string{"DS_BUILD_AIO", "DS_BUILD_CUTLASS_OPS", "DS_BUILD_SPARSE_ATTN"}
	if got := req.FlagNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("FlagNames() = %v, want %v", got, want)
	}
}

func TestDefaultOptionFlagsAllDisabled(t *testing.T) {
	flags := DefaultOptionFlags()
	if len(flags) != 7 {
		t.Fatalf("DefaultOptionFlags() has %d flags, want 7", len(flags))
	}
	for name, enabled := range flags {
		if enabled {
			t.Errorf("flag %s defaults to enabled", name)
		}
	}
}
