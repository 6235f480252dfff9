//go:build !linux && !darwin && !freebsd

package tensor

func lockMemory(data []byte) (bool, error) {
	return false, nil
}

func unlockMemory(data []byte) error {
	return nil
}

func allocPageAligned(size int) ([]byte, func() error, error) {
	return make([]byte, size), func() error { return nil }, nil
}
