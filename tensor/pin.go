package tensor

import (
	"fmt"
	"sync"

	"github.com/go-sif/sifgraph/errors"
)

// Pin is a handle on a locked Tensor buffer. Exactly one Pin may exist per buffer at a time,
// and the buffer is unlocked when the Pin is released.
type Pin struct {
	lock     sync.Mutex
	t        *Dense
	locked   bool
	released bool
}

// Pin locks this Tensor's memory in place, returning a handle which must be released
func (t *Dense) Pin() (*Pin, error) {
	t.pinLock.Lock()
	defer t.pinLock.Unlock()
	if err := t.checkLive(); err != nil {
		return nil, err
	}
	if t.pin != nil {
		return nil, errors.AlreadyPinnedError{}
	}
	locked, err := lockMemory(t.data)
	if err != nil {
		return nil, fmt.Errorf("unable to pin tensor: %w", err)
	}
	t.pin = &Pin{t: t, locked: locked}
	return t.pin, nil
}

// IsPinned returns true while a Pin on this Tensor is outstanding
func (t *Dense) IsPinned() bool {
	t.pinLock.Lock()
	defer t.pinLock.Unlock()
	return t.pin != nil
}

// Locked reports whether the operating system actually locked the pinned pages. Pinning
// proceeds unlocked when the process lacks the memlock allowance.
func (p *Pin) Locked() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.locked
}

// Tensor returns the pinned Tensor, or an error if this Pin has been released
func (p *Pin) Tensor() (*Dense, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.released {
		return nil, errors.ReleasedError{What: "pinned buffer"}
	}
	return p.t, nil
}

// Release unlocks the pinned memory. Releasing twice is an error.
func (p *Pin) Release() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.released {
		return errors.ReleasedError{What: "pinned buffer"}
	}
	p.released = true
	t := p.t
	t.pinLock.Lock()
	defer t.pinLock.Unlock()
	t.pin = nil
	var err error
	if p.locked {
		err = unlockMemory(t.data)
	}
	if t.free != nil {
		if ferr := t.free(); ferr != nil && err == nil {
			err = ferr
		}
		t.free = nil
		t.data = nil
		t.released = true
	}
	return err
}

// AllocPinned copies src into freshly allocated, page-aligned memory and pins it. The returned
// Pin owns that memory: releasing it frees the copy, after which the copy can no longer be read.
func AllocPinned(src Tensor) (*Pin, error) {
	data, free, err := allocPageAligned(len(src.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("unable to allocate pinned memory: %w", err)
	}
	copy(data, src.Bytes())
	t, err := New(src.DType(), data, src.Shape()...)
	if err != nil {
		_ = free()
		return nil, err
	}
	t.free = free
	p, err := t.Pin()
	if err != nil {
		_ = free()
		return nil, err
	}
	return p, nil
}

// WithPinned pins t for the duration of fn. The Pin is released on every exit path, including panics.
func WithPinned(t *Dense, fn func(p *Pin) error) (err error) {
	p, err := t.Pin()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := p.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(p)
}
