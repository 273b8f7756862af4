package uthread

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Stats is a read-only snapshot of scheduler state, an addition beyond
// the original nine calls useful for tests and host-program instrumentation.
type Stats struct {
	ReadyLen      int
	NumThreads    int
	TotalQuantums int
}

// Scheduler owns one process-wide thread table, ready queue, and virtual
// timer. Spec §9 recommends encapsulating the original's global state in
// one singleton; Init/the package-level functions wrap exactly one
// package-level instance, but NewScheduler is exported so tests can run
// independent instances concurrently.
type Scheduler struct {
	opts options

	schedMu sync.Mutex
	maxTID  int
	tcbs    []*TCB
	ready   *readyQueue

	totalQuantums int
	currentTID    int
	numThreads    int
	quantumUsec   int

	preemptPending atomic.Bool

	vtset   unix.Sigset_t
	sigCh   chan os.Signal
	stopCh  chan struct{}
	stopped atomic.Bool
}

// NewScheduler constructs an uninitialized Scheduler. Call Init before
// spawning any threads.
func NewScheduler(opts ...Option) *Scheduler {
	o := defaultOptions()
	for _, opt := range opts {
		opt.apply(&o)
	}
	s := &Scheduler{opts: o, maxTID: o.maxTID, ready: newReadyQueue(o.maxTID), tcbs: make([]*TCB, o.maxTID)}
	for i := range s.tcbs {
		s.tcbs[i] = newTCB(i)
	}
	return s
}

func (s *Scheduler) logger() Logger {
	if s.opts.logger != nil {
		return s.opts.logger
	}
	return getGlobalLogger()
}

func (s *Scheduler) logMisuse(call string, err error) error {
	wrapped := misuseError(call, err)
	s.logger().Log(Entry{Level: LevelWarn, Message: "thread library error: " + call, Err: err})
	fmt.Fprintf(os.Stderr, "thread library error: %s\n", err)
	return wrapped
}

func (s *Scheduler) fatal(op string, err error) {
	fe := newFatalError(op, err)
	s.logger().Log(Entry{Level: LevelError, Message: "system error: " + op, Err: err})
	fmt.Fprintf(os.Stderr, "system error: %s\n", fe)
	os.Exit(1)
}

// Init installs thread 0 (the calling goroutine) as the running thread,
// arms the virtual timer, and starts the timer-tick goroutine. It may be
// called exactly once per Scheduler.
func (s *Scheduler) Init(quantumUsec int) error {
	return s.init(quantumUsec, true)
}

// initForTest wires up thread 0 without touching real OS timer/signal
// state, so tests can drive quantum ticks deterministically via onTick
// instead of racing a real SIGVTALRM. Grounded on the corpus's preference
// for injected test hooks over real wall-clock timers where possible.
func (s *Scheduler) initForTest(quantumUsec int) error {
	return s.init(quantumUsec, false)
}

func (s *Scheduler) init(quantumUsec int, installTimer bool) error {
	if s.tcbs[0].state != Unused {
		return s.logMisuse("init", ErrAlreadyInitialized)
	}
	if quantumUsec <= 0 {
		return s.logMisuse("init", ErrInvalidQuantum)
	}

	s.quantumUsec = quantumUsec
	s.totalQuantums = 1
	s.currentTID = 0
	s.numThreads = 1
	s.vtset = vtSet()

	main := s.tcbs[0]
	main.state = Running
	main.quantums = 1
	main.ctx = newContext()

	if !installTimer {
		s.stopCh = make(chan struct{})
		return nil
	}

	ch, err := installTimerSignal()
	if err != nil {
		s.fatal("install timer signal", err)
	}
	s.sigCh = ch
	s.stopCh = make(chan struct{})
	go s.timerLoop(s.sigCh, s.stopCh)

	if err := armTimer(quantumUsec); err != nil {
		s.fatal("arm virtual timer", err)
	}
	return nil
}

// Spawn allocates the lowest free tid, starts a launcher goroutine parked
// until scheduled, and enqueues it as READY.
func (s *Scheduler) Spawn(entry EntryPoint) (int, error) {
	if s.tcbs[0].state == Unused {
		return -1, s.logMisuse("spawn", ErrNotInitialized)
	}
	if entry == nil {
		return -1, s.logMisuse("spawn", ErrNilEntry)
	}

	release, err := s.critical()
	if err != nil {
		s.fatal("spawn: mask", err)
	}
	defer release()

	if s.numThreads >= s.maxTID {
		return -1, s.logMisuse("spawn", ErrThreadTableFull)
	}

	tid := -1
	for i := 1; i < s.maxTID; i++ {
		if s.tcbs[i].state == Unused {
			tid = i
			break
		}
	}
	if tid < 0 {
		return -1, s.logMisuse("spawn", ErrThreadTableFull)
	}

	tcb := s.tcbs[tid]
	tcb.state = Ready
	tcb.quantums = 0
	tcb.sleepUntil = 0
	tcb.entry = entry
	tcb.ctx = newContext()
	s.numThreads++
	s.ready.Enqueue(tid)

	go s.launch(tid)

	return tid, nil
}

// launch is the body of every non-main thread's goroutine. If the thread
// is Terminated by another thread before ever being granted the baton,
// ctx.wait reports false and launch exits without running entry at all.
func (s *Scheduler) launch(tid int) {
	tcb := s.tcbs[tid]
	if !tcb.ctx.wait() {
		runtime.Goexit()
	}
	tcb.entry()
	s.selfTerminate(tid)
}

// Terminate ends the thread identified by tid. tid == 0 shuts down the
// entire scheduler, matching the original library's terminate(0) contract.
func (s *Scheduler) Terminate(tid int) int {
	if tid == 0 {
		s.Shutdown()
		os.Exit(0)
		return 0 // unreachable
	}
	if tid == s.currentTID {
		s.selfTerminate(tid)
		return 0 // unreachable: selfTerminate never returns
	}

	release, err := s.critical()
	if err != nil {
		s.fatal("terminate: mask", err)
	}
	defer release()

	if tid < 0 || tid >= s.maxTID || s.tcbs[tid].state == Unused {
		s.logMisuse("terminate", ErrInvalidTID)
		return -1
	}

	tcb := s.tcbs[tid]
	if tcb.state == Ready {
		s.ready.Remove(tid)
	}
	tcb.state = Terminated
	s.numThreads--
	// tid != currentTID, so tcb's launcher goroutine is necessarily parked
	// in wait (either the initial one in launch, or one reached via a
	// prior switchTo while being demoted off the baton). cancel reclaims
	// it instead of leaking it forever blocked on a channel nothing will
	// ever send on again.
	tcb.ctx.cancel()
	tcb.reset()
	return 0
}

// selfTerminate is the one-way path: it never returns to its caller.
func (s *Scheduler) selfTerminate(tid int) {
	release, err := s.critical()
	if err != nil {
		s.fatal("terminate: mask", err)
	}

	tcb := s.tcbs[tid]
	tcb.state = Terminated
	s.numThreads--
	remaining := s.numThreads
	tcb.reset()

	release()

	if remaining == 0 {
		s.Shutdown()
		os.Exit(0)
	}
	s.scheduleAwayNoReturn()
	// A goroutine calling Terminate(self) must never run another
	// instruction past this point: another thread is now RUNNING.
	// runtime.Goexit unwinds this goroutine's stack (running deferred
	// calls, but no further caller code) and ends it, which is the
	// Go-native equivalent of the original jmp_buf never being
	// resumed.
	runtime.Goexit()
}

// Block moves tid out of RUNNING/READY into BLOCKED. Blocking the
// currently-running non-main thread causes an immediate context switch.
func (s *Scheduler) Block(tid int) int {
	s.checkpoint()
	if tid == 0 {
		s.logMisuse("block", ErrMainThreadBlock)
		return -1
	}

	release, err := s.critical()
	if err != nil {
		s.fatal("block: mask", err)
	}

	if tid < 0 || tid >= s.maxTID || s.tcbs[tid].state == Unused {
		release()
		s.logMisuse("block", ErrInvalidTID)
		return -1
	}

	tcb := s.tcbs[tid]
	wasRunning := tcb.state == Running
	if tcb.state == Ready {
		s.ready.Remove(tid)
	}
	tcb.state = Blocked
	release()

	if wasRunning {
		s.scheduleNext()
	}
	return 0
}

// Resume moves a BLOCKED, not-sleeping thread back to READY. A no-op for
// threads that are already READY/RUNNING, consistent with spec §4.6.
func (s *Scheduler) Resume(tid int) int {
	release, err := s.critical()
	if err != nil {
		s.fatal("resume: mask", err)
	}
	defer release()

	if tid < 0 || tid >= s.maxTID || s.tcbs[tid].state == Unused {
		s.logMisuse("resume", ErrInvalidTID)
		return -1
	}

	tcb := s.tcbs[tid]
	if tcb.state != Blocked || tcb.sleepUntil != 0 {
		return 0
	}
	tcb.state = Ready
	s.ready.Enqueue(tid)
	return 0
}

// Sleep blocks the calling thread for n quantums. tid 0 may never sleep.
func (s *Scheduler) Sleep(n int) int {
	tid := s.GetTid()
	if tid == 0 {
		s.logMisuse("sleep", ErrMainThreadSleep)
		return -1
	}
	if n <= 0 {
		s.logMisuse("sleep", ErrInvalidSleepCount)
		return -1
	}

	release, err := s.critical()
	if err != nil {
		s.fatal("sleep: mask", err)
	}

	tcb := s.tcbs[tid]
	if tcb.state == Ready {
		s.ready.Remove(tid)
	}
	tcb.state = Blocked
	tcb.sleepUntil = s.totalQuantums + n + 1

	release()

	s.scheduleNext()
	return 0
}

// GetTid returns the currently running thread's id. It is lock-light (no
// signal-mask critical section) and also serves as a preemption checkpoint.
func (s *Scheduler) GetTid() int {
	s.checkpoint()
	s.schedMu.Lock()
	defer s.schedMu.Unlock()
	return s.currentTID
}

// GetTotalQuantums returns the number of quantums started since Init.
func (s *Scheduler) GetTotalQuantums() int {
	s.checkpoint()
	s.schedMu.Lock()
	defer s.schedMu.Unlock()
	return s.totalQuantums
}

// GetQuantums returns the number of quantums tid has been RUNNING for.
func (s *Scheduler) GetQuantums(tid int) int {
	s.checkpoint()
	s.schedMu.Lock()
	if tid < 0 || tid >= s.maxTID || s.tcbs[tid].state == Unused {
		s.schedMu.Unlock()
		s.logMisuse("get_quantums", ErrInvalidTID)
		return -1
	}
	defer s.schedMu.Unlock()
	return s.tcbs[tid].quantums
}

// Stats returns a snapshot of scheduler bookkeeping.
func (s *Scheduler) Stats() Stats {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()
	return Stats{ReadyLen: s.ready.Len(), NumThreads: s.numThreads, TotalQuantums: s.totalQuantums}
}

// Shutdown disarms the timer and stops the tick goroutine without exiting
// the process, an affordance tests need that terminate(0)'s os.Exit(0)
// forecloses in production use.
func (s *Scheduler) Shutdown() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	_ = disarmTimer()
	close(s.stopCh)
}

// critical enters the spec §4.4 critical section: block SIGVTALRM for
// this OS thread and take schedMu, which additionally serializes
// goroutines in Go's M:N model. release restores both in the opposite order.
func (s *Scheduler) critical() (func(), error) {
	prev, err := acquireCritical(&s.vtset)
	if err != nil {
		return func() {}, err
	}
	s.schedMu.Lock()
	return func() {
		s.schedMu.Unlock()
		_ = releaseCritical(&prev)
	}, nil
}

// checkpoint performs the deferred half of preemption: if the timer has
// ticked since this thread last checked in, yield the baton now.
func (s *Scheduler) checkpoint() {
	if s.preemptPending.CompareAndSwap(true, false) {
		s.scheduleNext()
	}
}

// onTick is the timer handler: advance total_quantums, charge the
// running thread, wake expired sleepers, and arm the deferred preemption
// checkpoint. It never itself performs the context switch; see §0 of
// SPEC_FULL.md for why that must happen on the running thread's own goroutine.
func (s *Scheduler) onTick() {
	s.schedMu.Lock()
	s.totalQuantums++
	cur := s.tcbs[s.currentTID]
	cur.quantums++
	for tid := 0; tid < s.maxTID; tid++ {
		t := s.tcbs[tid]
		if t.state == Blocked && t.sleepUntil != 0 && s.totalQuantums >= t.sleepUntil {
			t.sleepUntil = 0
			t.state = Ready
			s.ready.Enqueue(tid)
		}
	}
	s.schedMu.Unlock()
	s.preemptPending.Store(true)
}

// scheduleNext is the core algorithm of spec §4.7: demote the running
// thread if it is still runnable, dequeue the next READY thread, and
// switch. Bookkeeping runs under schedMu; the blocking handoff itself
// runs outside the lock so it can never deadlock another goroutine's
// critical section.
func (s *Scheduler) scheduleNext() {
	s.schedMu.Lock()
	prev := s.tcbs[s.currentTID]
	wasRunning := prev.state == Running
	otherReady := !s.ready.Empty()

	if wasRunning && !otherReady {
		// Nobody else is runnable: stay on prev without a switch. A
		// self-switch here would deadlock, since grant() would block
		// waiting for a receiver that is this very goroutine, which
		// has not reached wait() yet.
		s.schedMu.Unlock()
		return
	}

	if wasRunning {
		prev.state = Ready
		s.ready.Enqueue(prev.tid)
	}
	nextTID, ok := s.ready.Dequeue()
	if !ok {
		s.schedMu.Unlock()
		return
	}
	next := s.tcbs[nextTID]
	next.state = Running
	s.currentTID = nextTID
	prevCtx, nextCtx := prev.ctx, next.ctx
	s.schedMu.Unlock()

	switchTo(prevCtx, nextCtx)
}

// scheduleAwayNoReturn is scheduleNext's one-way variant for the
// self-terminating goroutine, which has no context left to save.
func (s *Scheduler) scheduleAwayNoReturn() {
	s.schedMu.Lock()
	nextTID, ok := s.ready.Dequeue()
	if !ok {
		s.schedMu.Unlock()
		panic("uthread: no ready thread to schedule onto")
	}
	next := s.tcbs[nextTID]
	next.state = Running
	s.currentTID = nextTID
	nextCtx := next.ctx
	s.schedMu.Unlock()

	switchToNoReturn(nextCtx)
}
