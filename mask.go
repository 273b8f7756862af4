package uthread

import (
	"golang.org/x/sys/unix"
)

// vtSet is the signal set containing only SIGVTALRM, built once by Init
// and reused for every critical-section enter/exit per spec §4.4.
func vtSet() unix.Sigset_t {
	var set unix.Sigset_t
	sigaddset(&set, unix.SIGVTALRM)
	return set
}

// acquireCritical blocks delivery of SIGVTALRM to the calling OS thread
// and returns the previous mask so the caller can restore it exactly.
// Scheduler.schedMu additionally serializes goroutines against each
// other: PthreadSigmask only protects the calling OS thread, and Go's
// M:N goroutine model means the timer-tick goroutine and a user-thread
// goroutine are not guaranteed to share one OS thread, so the mutex
// closes the gap the original single-threaded C process never had.
func acquireCritical(set *unix.Sigset_t) (prev unix.Sigset_t, err error) {
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, set, &prev); err != nil {
		return prev, err
	}
	return prev, nil
}

func releaseCritical(prev *unix.Sigset_t) error {
	return unix.PthreadSigmask(unix.SIG_SETMASK, prev, nil)
}

func sigaddset(set *unix.Sigset_t, sig unix.Signal) {
	// unix.Sigset_t is a fixed-size bit array; Go exposes no portable
	// sigaddset, so this mirrors glibc's own bit math directly.
	word := (sig - 1) / 64
	bit := uint64(1) << (uint(sig-1) % 64)
	set.Val[word] |= bit
}
