// Package slot provides a mutex-guarded holder for zero or one value.
//
// The session core keeps its single active model and its single in-flight
// download in slots. Callers never touch the value directly: they Replace,
// Take, Get, or run an Update under the lock.
//
// A panic inside a critical section poisons the slot. The panic is
// recovered and surfaced as domain.ErrLockUnavailable, and every later
// operation on that slot fails the same way.
package slot

import (
	"fmt"
	"sync"

	"github.com/tutu-network/pana/internal/domain"
)

// Slot holds zero or one T. The zero value is an empty, usable slot.
type Slot[T any] struct {
	mu       sync.Mutex
	val      T
	ok       bool
	poisoned bool
}

// Update runs fn under the lock with the current contents. If fn returns
// an error the slot is unchanged. Otherwise the slot holds next when keep
// is true and is emptied when keep is false.
func (s *Slot[T]) Update(fn func(cur T, ok bool) (next T, keep bool, err error)) (err error) {
	s.mu.Lock()
	defer func() {
		if r := recover(); r != nil {
			s.poisoned = true
			err = fmt.Errorf("%w: panic while held: %v", domain.ErrLockUnavailable, r)
		}
		s.mu.Unlock()
	}()

	if s.poisoned {
		return domain.ErrLockUnavailable
	}

	next, keep, err := fn(s.val, s.ok)
	if err != nil {
		return err
	}
	if keep {
		s.val, s.ok = next, true
	} else {
		var zero T
		s.val, s.ok = zero, false
	}
	return nil
}

// Replace stores v and returns what was there before.
func (s *Slot[T]) Replace(v T) (old T, had bool, err error) {
	err = s.Update(func(cur T, ok bool) (T, bool, error) {
		old, had = cur, ok
		return v, true, nil
	})
	return old, had, err
}

// Take empties the slot and returns what it held.
func (s *Slot[T]) Take() (v T, ok bool, err error) {
	err = s.Update(func(cur T, had bool) (T, bool, error) {
		v, ok = cur, had
		var zero T
		return zero, false, nil
	})
	return v, ok, err
}

// Get returns the current contents without changing them.
func (s *Slot[T]) Get() (v T, ok bool, err error) {
	err = s.Update(func(cur T, had bool) (T, bool, error) {
		v, ok = cur, had
		return cur, had, nil
	})
	return v, ok, err
}

// Poisoned reports whether a panic has poisoned the slot.
func (s *Slot[T]) Poisoned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poisoned
}
