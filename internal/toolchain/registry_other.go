//go:build !windows

package toolchain

// Registry probing only exists on Windows; elsewhere every read misses and
// discovery falls through to NotFound.
func readRegistryValue(key, name string) (string, bool) {
	return "", false
}
