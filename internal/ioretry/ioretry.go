// Package ioretry provides the EINTR-retry helper the client buffer
// uses around its blocking read/write/poll syscalls.
//
// Adapted directly from the teacher's internal/unix2.go IgnoringEINTR,
// which exists because even with all signal handlers installed with
// SA_RESTART, a handful of long-standing Go runtime issues (see
// golang.org/issue/22838, 38033, 38836, 40846) still surface spurious
// EINTR on blocking syscalls.
package ioretry

import "syscall"

// IgnoringEINTR calls fn, repeating the call if it returns EINTR.
func IgnoringEINTR[T any](fn func() (T, error)) (T, error) {
	for {
		v, err := fn()
		if err != syscall.EINTR {
			return v, err
		}
	}
}
