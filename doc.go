// Package uthread implements a cooperative-preemptive, single-OS-thread
// user-level thread library: a fixed table of thread control blocks, a
// FIFO ready queue, a virtual-timer-driven scheduler, and a small set of
// library calls (Init, Spawn, Terminate, Block, Resume, Sleep, GetTid,
// GetTotalQuantums, GetQuantums) that together give a host program the
// illusion of many concurrently-scheduled threads running on one logical
// CPU.
//
// At any instant exactly one thread is logically RUNNING; every other
// live thread is READY, BLOCKED, or asleep. A virtual timer
// (ITIMER_VIRTUAL, delivered as SIGVTALRM) fires once per quantum; each
// tick advances the quantum counters, wakes expired sleepers, and marks a
// preemption pending. The running thread hands control to the next READY
// thread in FIFO order only when it next reaches a checkpoint (GetTid,
// GetTotalQuantums, GetQuantums, Block or Sleep); a thread that never
// makes one of these calls is not preempted. It also yields by blocking,
// sleeping, or terminating.
//
// Go gives no library access to a portable raw stack/register swap, so
// each thread here is a real goroutine parked on a channel except while
// it holds the scheduling baton; see context.go for the rendezvous this
// implies, and SPEC_FULL.md for the full rationale.
package uthread
