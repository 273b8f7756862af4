package uthread

import "sync"

var (
	defaultOnce  sync.Once
	defaultSched *Scheduler
)

func defaultScheduler() *Scheduler {
	defaultOnce.Do(func() {
		defaultSched = NewScheduler()
	})
	return defaultSched
}

// Init configures the package-level scheduler with a quantum length in
// microseconds. Must be called exactly once, from thread 0 (the calling
// goroutine), before any other library call.
func Init(quantumUsec int) error {
	return defaultScheduler().Init(quantumUsec)
}

// Spawn creates a new thread running entry and returns its tid.
func Spawn(entry EntryPoint) (int, error) {
	return defaultScheduler().Spawn(entry)
}

// Terminate ends the thread identified by tid; tid == 0 shuts down the
// whole process.
func Terminate(tid int) int {
	return defaultScheduler().Terminate(tid)
}

// Block moves tid to BLOCKED.
func Block(tid int) int {
	return defaultScheduler().Block(tid)
}

// Resume moves a BLOCKED, non-sleeping tid back to READY.
func Resume(tid int) int {
	return defaultScheduler().Resume(tid)
}

// Sleep blocks the calling thread for n quantums.
func Sleep(n int) int {
	return defaultScheduler().Sleep(n)
}

// GetTid returns the calling thread's id.
func GetTid() int {
	return defaultScheduler().GetTid()
}

// GetTotalQuantums returns the number of quantums started since Init.
func GetTotalQuantums() int {
	return defaultScheduler().GetTotalQuantums()
}

// GetQuantums returns the number of quantums tid has been RUNNING for.
func GetQuantums(tid int) int {
	return defaultScheduler().GetQuantums(tid)
}
