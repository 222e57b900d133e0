//go:build windows

package toolchain

import "golang.org/x/sys/windows/registry"

func readRegistryValue(key, name string) (string, bool) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, key, registry.QUERY_VALUE)
	if err != nil {
		return "", false
	}
	defer k.Close()

	v, _, err := k.GetStringValue(name)
	if err != nil || v == "" {
		return "", false
	}
	return v, true
}
