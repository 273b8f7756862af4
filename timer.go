package uthread

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// armTimer configures ITIMER_VIRTUAL to fire once per quantum and repeat,
// charging only the CPU time this process actually spends running.
func armTimer(quantumUsec int) error {
	d := time.Duration(quantumUsec) * time.Microsecond
	val := unix.Itimerval{
		Value:    unix.NsecToTimeval(d.Nanoseconds()),
		Interval: unix.NsecToTimeval(d.Nanoseconds()),
	}
	_, err := unix.Setitimer(unix.ItimerVirtual, val)
	return err
}

func disarmTimer() error {
	_, err := unix.Setitimer(unix.ItimerVirtual, unix.Itimerval{})
	return err
}

// timerLoop watches for SIGVTALRM and drives the scheduler's quantum
// bookkeeping and preemption on every tick. It exits when stop is closed.
func (s *Scheduler) timerLoop(ch <-chan os.Signal, stop <-chan struct{}) {
	for {
		select {
		case <-ch:
			s.onTick()
		case <-stop:
			signal.Stop(ch)
			return
		}
	}
}

func installTimerSignal() (chan os.Signal, error) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGVTALRM)
	return ch, nil
}
