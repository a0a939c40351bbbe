//go:build windows

package registry

// CurrentUID returns 0; there is no per-user launchd domain on windows.
func CurrentUID() int {
	return 0
}
