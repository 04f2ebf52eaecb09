//go:build !linux

package randread

import "golang.org/x/sys/unix"

func openDirectFd(path string) (int, error) {
	return -1, openError(path, CodeDirectUnsupported, "direct I/O is only available on linux", unix.ENOTSUP)
}
