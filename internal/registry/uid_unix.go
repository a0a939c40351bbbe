//go:build !windows

package registry

import "golang.org/x/sys/unix"

// CurrentUID returns the real user id of the calling process.
func CurrentUID() int {
	return unix.Getuid()
}
