//go:build linux || darwin || freebsd

package tensor

import (
	goerrors "errors"

	"golang.org/x/sys/unix"
)

func lockMemory(data []byte) (bool, error) {
	if len(data) == 0 {
		return false, nil
	}
	err := unix.Mlock(data)
	if err == nil {
		return true, nil
	}
	// RLIMIT_MEMLOCK exhausted or unprivileged process: keep going with ordinary pages
	if goerrors.Is(err, unix.EPERM) || goerrors.Is(err, unix.ENOMEM) || goerrors.Is(err, unix.EAGAIN) {
		return false, nil
	}
	return false, err
}

func unlockMemory(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Munlock(data)
}

func allocPageAligned(size int) ([]byte, func() error, error) {
	if size == 0 {
		return []byte{}, func() error { return nil }, nil
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}
	return data, func() error { return unix.Munmap(data) }, nil
}
