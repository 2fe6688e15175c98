package controller

import "slices"

// listenerSet is an ordered set of callbacks. Callers hold the map lock.
type listenerSet[T any] struct {
	next int
	ids  []int
	fns  []func(T)
}

func (l *listenerSet[T]) add(fn func(T)) int {
	l.next++
	l.ids = append(l.ids, l.next)
	l.fns = append(l.fns, fn)
	return l.next
}

func (l *listenerSet[T]) remove(id int) {
	for i, v := range l.ids {
		if v == id {
			l.ids = append(l.ids[:i], l.ids[i+1:]...)
			l.fns = append(l.fns[:i], l.fns[i+1:]...)
			return
		}
	}
}

// bind returns a call that runs every callback registered now with v.
// It is meant to be run after the lock is released.
func (l *listenerSet[T]) bind(v T) func() {
	if len(l.fns) == 0 {
		return nil
	}
	fns := slices.Clone(l.fns)
	return func() {
		for _, fn := range fns {
			fn(v)
		}
	}
}
