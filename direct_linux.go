//go:build linux

package randread

import (
	"errors"

	"golang.org/x/sys/unix"
)

// openDirectFd opens path read-only with O_DIRECT.
func openDirectFd(path string) (int, error) {
	for {
		fd, err := unix.Open(path, unix.O_RDONLY|unix.O_DIRECT|unix.O_CLOEXEC, 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.EINVAL) {
			return -1, openError(path, CodeDirectUnsupported, "filesystem does not support direct I/O", err)
		}
		if err != nil {
			return -1, classifyOpen(path, err)
		}
		return fd, nil
	}
}
