package toolchain

import "os"

//go:generate mockgen -destination=mocks/mock_prober.go -package=mocks github.com/mattjoyce/wheelforge/internal/toolchain Prober

// Prober abstracts the filesystem and registry probes discovery depends on,
// so locator logic is testable without a real toolchain install.
type Prober interface {
	// FileExists reports whether path exists and is a regular file.
	FileExists(path string) bool

	// DirEntries lists the entry names of a directory.
	DirEntries(path string) ([]string, error)

	// ReadRegistryValue reads a string value from HKLM. The second return is
	// false when the key or value is absent.
	ReadRegistryValue(key, name string) (string, bool)
}

// osProber probes the real machine.
type osProber struct{}

// NewProber returns the platform prober. Registry reads always miss on
// non-Windows hosts.
func NewProber() Prober { return osProber{} }

func (osProber) FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (osProber) DirEntries(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (osProber) ReadRegistryValue(key, name string) (string, bool) {
	return readRegistryValue(key, name)
}
