package uthread

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// waitUntil polls cond with a short sleep, failing the test if it never
// becomes true. Used only to wait for a goroutine under test to reach a
// checkpoint; it never participates in scheduling decisions itself.
func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestSpawnTerminateReusesLowestTID(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.initForTest(1000))

	tid1, err := s.Spawn(func() {})
	require.NoError(t, err)
	require.Equal(t, 1, tid1)

	// Hand the baton to thread 1; it runs its (empty) entry and
	// self-terminates, handing the baton back to the caller (thread 0).
	s.scheduleNext()

	require.Equal(t, Unused, s.tcbs[1].state)
	require.Equal(t, 1, s.Stats().NumThreads)

	tid2, err := s.Spawn(func() {})
	require.NoError(t, err)
	require.Equal(t, 1, tid2, "freed slot 1 should be reused before allocating slot 2")
	s.scheduleNext()
}

func TestSpawnBeforeInitRejected(t *testing.T) {
	s := NewScheduler()
	_, err := s.Spawn(func() {})
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestSpawnNilEntryRejected(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.initForTest(1000))

	_, err := s.Spawn(nil)
	require.ErrorIs(t, err, ErrNilEntry)
}

func TestSpawnExhaustsTable(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.initForTest(1000))

	for i := 1; i < MaxTID; i++ {
		_, err := s.Spawn(func() { select {} })
		require.NoError(t, err)
	}

	_, err := s.Spawn(func() {})
	require.ErrorIs(t, err, ErrThreadTableFull)
}

func TestWithMaxTIDOverridesTableSize(t *testing.T) {
	s := NewScheduler(WithMaxTID(3))
	require.NoError(t, s.initForTest(1000))

	// tid 0 is main; tids 1 and 2 are the only other slots available.
	_, err := s.Spawn(func() { select {} })
	require.NoError(t, err)
	_, err = s.Spawn(func() { select {} })
	require.NoError(t, err)

	_, err = s.Spawn(func() {})
	require.ErrorIs(t, err, ErrThreadTableFull)

	require.Equal(t, -1, s.GetQuantums(3))
}

func TestBlockMainThreadRejected(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.initForTest(1000))

	require.Equal(t, -1, s.Block(0))
}

func TestSleepMainThreadRejected(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.initForTest(1000))

	require.Equal(t, -1, s.Sleep(1))
}

func TestResumeOnReadyOrRunningIsNoOp(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.initForTest(1000))

	tid, err := s.Spawn(func() { select {} })
	require.NoError(t, err)

	// Resuming a READY thread is a documented no-op: it must not be
	// double-enqueued.
	require.Equal(t, 0, s.Resume(tid))
	require.Equal(t, 1, s.ready.Len())

	// Resuming the RUNNING thread (tid 0) is likewise a no-op.
	require.Equal(t, 0, s.Resume(0))
	require.Equal(t, Running, s.tcbs[0].state)
	require.Equal(t, 1, s.ready.Len())
}

func TestBlockThenResumeRoundTrip(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.initForTest(1000))

	blocked := make(chan struct{})
	done := make(chan struct{})
	tid, err := s.Spawn(func() {
		tid := s.GetTid()
		s.Block(tid)
		close(done)
	})
	require.NoError(t, err)

	go func() {
		s.scheduleNext() // hand the baton to the new thread
		close(blocked)
	}()
	<-blocked

	waitUntil(t, func() bool {
		s.schedMu.Lock()
		defer s.schedMu.Unlock()
		return s.tcbs[tid].state == Blocked
	})

	require.Equal(t, 0, s.Resume(tid))
	require.Equal(t, Ready, s.tcbs[tid].state)

	s.scheduleNext() // hand the baton back; thread finishes and self-terminates
	<-done
}

func TestSleepWakesAfterDeadline(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.initForTest(1000))

	woke := make(chan struct{})
	_, err := s.Spawn(func() {
		s.Sleep(2)
		close(woke)
	})
	require.NoError(t, err)

	go s.scheduleNext() // hand off to the sleeper; it parks itself asleep

	waitUntil(t, func() bool {
		s.schedMu.Lock()
		defer s.schedMu.Unlock()
		return s.currentTID == 0
	})

	// Two ticks are not enough: sleepUntil = totalQuantums + n + 1.
	s.onTick()
	s.onTick()
	s.checkpoint()
	select {
	case <-woke:
		t.Fatal("thread woke before its sleep deadline")
	default:
	}

	s.onTick()
	s.checkpoint()
	<-woke
}

func TestDoubleInitRejected(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.initForTest(1000))
	require.ErrorIs(t, s.initForTest(1000), ErrAlreadyInitialized)
}

func TestInitRejectsNonPositiveQuantum(t *testing.T) {
	s := NewScheduler()
	require.ErrorIs(t, s.initForTest(0), ErrInvalidQuantum)
}

func TestGetQuantumsInvalidTID(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.initForTest(1000))

	require.Equal(t, -1, s.GetQuantums(-1))
	require.Equal(t, -1, s.GetQuantums(MaxTID))
	require.Equal(t, -1, s.GetQuantums(5)) // never spawned
	require.Equal(t, 1, s.GetQuantums(0))
}

func TestTerminateInvalidTID(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.initForTest(1000))

	require.Equal(t, -1, s.Terminate(7))
	require.Equal(t, -1, s.Terminate(MaxTID))
}

func TestTerminateRemovesFromReadyQueue(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.initForTest(1000))

	tid, err := s.Spawn(func() { select {} })
	require.NoError(t, err)
	require.Equal(t, 1, s.ready.Len())

	require.Equal(t, 0, s.Terminate(tid))
	require.Equal(t, 0, s.ready.Len())
	require.Equal(t, Unused, s.tcbs[tid].state)
	require.Equal(t, 1, s.Stats().NumThreads)
}

// TestTerminateNeverScheduledDoesNotLeakGoroutine is spec §8 scenario 1
// (spawn(f)=1; spawn(g)=2; terminate(1)): tid 1's launcher goroutine is
// still parked in launch, never having been granted the baton, when it is
// terminated. Its entry must never run and its goroutine must not leak.
func TestTerminateNeverScheduledDoesNotLeakGoroutine(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.initForTest(1000))

	runtime.GC()
	before := runtime.NumGoroutine()

	ran := make(chan struct{})
	tid1, err := s.Spawn(func() { close(ran) })
	require.NoError(t, err)
	_, err = s.Spawn(func() { select {} })
	require.NoError(t, err)

	require.Equal(t, 0, s.Terminate(tid1))

	select {
	case <-ran:
		t.Fatal("entry of a never-scheduled, terminated thread must not run")
	default:
	}

	waitUntil(t, func() bool {
		runtime.GC()
		return runtime.NumGoroutine() <= before+1 // tolerate the other spawned thread's goroutine
	})
}
