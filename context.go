package uthread

import "runtime"

// Context is the Go stand-in for the saved CPU state a native uthread
// library would keep (stack pointer, program counter, callee-saved
// registers, signal mask). Go offers no portable way for a library to
// save and restore an arbitrary raw stack, so instead each thread is a
// real goroutine parked on resume, an unbuffered channel, whenever it
// does not hold the scheduling baton. A goroutine blocked on a channel
// receive already is a suspended execution context with its Go stack
// intact; handing it the baton is exactly resuming that context.
type Context struct {
	resume chan struct{}
}

func newContext() *Context {
	return &Context{resume: make(chan struct{})}
}

// wait blocks the calling goroutine until grant or cancel is called on
// this Context. It reports false if the Context was cancelled instead of
// granted, in which case the caller must not run any further thread code.
func (c *Context) wait() bool {
	_, ok := <-c.resume
	return ok
}

// grant hands the baton to this Context's goroutine. It blocks until that
// goroutine is parked in wait and ready to receive it.
func (c *Context) grant() {
	c.resume <- struct{}{}
}

// cancel reclaims a goroutine parked in wait that will never be granted
// the baton again, e.g. a thread Terminated by another thread before it
// was ever scheduled onto. Closing resume instead of sending on it wakes
// wait immediately, with ok=false distinguishing it from a real grant.
// The caller must already hold the Scheduler's critical section, so no
// grant can race this close.
func (c *Context) cancel() {
	close(c.resume)
}

// switchTo is the context-switch primitive of spec §4.3: save the
// caller's context by parking it, and resume to's context. The caller
// resumes only once some later switchTo grants the baton back to from, or
// returns via runtime.Goexit if from was cancelled instead (from's thread
// was Terminated by another thread while parked here).
func switchTo(from, to *Context) {
	to.grant()
	if !from.wait() {
		runtime.Goexit()
	}
}

// switchToNoReturn is the one-way jump used by self-termination: the
// calling goroutine is about to exit, so there is no from side to save.
func switchToNoReturn(to *Context) {
	to.grant()
}
