// Copyright 2020 Nathan Taylor (nbtaylor@gmail.com)
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package stsync implements a SlimThreading-style low-level synchronization
// primitive library: a family of blocking primitives built on a single,
// reusable idea -- a single-shot "parker" that a thread parks itself on, and
// a lock-free list of such parkers ("alerter") that can be broadcast-cancelled.
//
// The primitives, from the ground up:
//
//   - ParkSpot: an OS-backed one-shot wake handle (a weight-1 semaphore).
//   - SpinWait: calibrated busy-wait backoff used before a thread commits to
//     parking.
//   - Parker: a single-shot, per-wait synchronization object with a small
//     lock count, used both as a plain wait/wake handle and as the unit of
//     cancellation race-closing (exactly one of "woken" and "cancelled" wins).
//   - Alerter: a broadcast-cancellation group over a set of registered
//     parkers, used to implement interruptible waits.
//   - WaitBlock: the list node queued on a primitive's wait list, pairing a
//     parker with the request it is waiting to have satisfied.
//   - NotificationEvent: a sticky, broadcast event whose internal state is a
//     single tagged pointer.
//   - LockedQueue: a FIFO queue whose own admission lock is itself a
//     lock-free, CAS-based contention stack, so that queueing up to wait
//     never requires blocking to take the queue's own lock.
//   - Mutant: the common base of a fair lock and a synchronization event --
//     one bit of state, plus a LockedQueue of waiters, plus the release
//     protocol that guarantees no waiter is ever left behind while the
//     mutant is available.
//   - ReentrantFairLock: a Mutant plus an owner id and a recursion count.
//
// None of these types allocate on their hot paths; all blocking operations
// take a timeout (in milliseconds, with an "infinite" sentinel) and an
// optional *Alerter for cooperative cancellation, and report one of a small
// set of wait-status codes (WaitSuccess, WaitTimeout, WaitAlerted,
// WaitInterrupted) rather than raising an error -- timeouts and alerts are
// expected outcomes, not failures.
package stsync
