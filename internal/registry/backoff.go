/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package registry

import "time"

// FibonacciBackOff waits 1, 1, 2, 3, 5, 8, ... units between attempts,
// never longer than Max.
type FibonacciBackOff struct {
	Unit time.Duration
	Max  time.Duration

	cur, next int64
}

// NewFibonacciBackOff returns a reset backoff.
func NewFibonacciBackOff(unit, max time.Duration) *FibonacciBackOff {
	f := &FibonacciBackOff{Unit: unit, Max: max}
	f.Reset()
	return f
}

func (f *FibonacciBackOff) NextBackOff() time.Duration {
	d := time.Duration(f.cur) * f.Unit
	if f.Max > 0 && (d > f.Max || d < 0) {
		return f.Max
	}
	f.cur, f.next = f.next, f.cur+f.next
	return d
}

func (f *FibonacciBackOff) Reset() {
	f.cur, f.next = 1, 1
}
