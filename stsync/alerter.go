package stsync

import "go.uber.org/atomic"

// alerted is the sentinel value published to Alerter.state once Set has
// been called; it is never a valid registered-parker pointer because it is
// allocated as a distinguished Parker value that nothing ever parks on.
var alerted = &Parker{}

// Alerter is a lock-free, singly-linked list of registered parkers that can
// be broadcast-cancelled by a single Set call, implementing cooperative
// cancellation of in-flight parks. Once Set has fired, further registration
// fails permanently.
//
// Grounded on mono/utils/st.h (StAlerter) and mono/utils/st-alerter.c.
type Alerter struct {
	state atomic.Pointer[Parker]
}

// Init resets the alerter to its unset, empty state.
func (a *Alerter) Init() {
	a.state.Store(nil)
}

// IsSet reports whether Set has already fired.
func (a *Alerter) IsSet() bool {
	return a.state.Load() == alerted
}

// Set broadcasts cancellation: it CASes the alerter to the alerted sentinel
// and then walks whatever list of parkers it captured, cancelling and
// unparking each one with WaitAlerted. Returns false if the alerter was
// already set by a prior call.
func (a *Alerter) Set() bool {
	for {
		state := a.state.Load()
		if state == alerted {
			return false
		}
		if a.state.CAS(state, alerted) {
			alertParkerList(state)
			return true
		}
	}
}

func alertParkerList(first *Parker) {
	for first != nil {
		next := first.Next()
		if first.TryCancel() {
			first.Unpark(WaitAlerted)
		}
		first.SetNext(first)
		first = next
	}
}

// RegisterParker pushes p onto the alerter's list. Returns false if the
// alerter has already been set, in which case the caller's wait should be
// treated as already-alerted.
func (a *Alerter) RegisterParker(p *Parker) bool {
	for {
		state := a.state.Load()
		if state == alerted {
			return false
		}
		p.SetNext(state)
		if a.state.CAS(state, p) {
			return true
		}
	}
}

// DeregisterParker removes p from the alerter's list. The fast path handles
// the two common cases -- p was already unlinked by Set, or p is the sole
// list head -- and falls back to the slow path otherwise.
func (a *Alerter) DeregisterParker(p *Parker) {
	if p.Next() == p {
		return
	}
	if p.Next() == nil && a.state.CAS(p, nil) {
		return
	}
	a.slowDeregisterParker(p)
}

// slowDeregisterParker rebuilds the alerter's list with p (and any other
// already-locked/cancelled parkers) filtered out, merging survivors back in
// if the list changed underneath it, then spins until p is observably
// unlinked (Next() == p), restarting if the list changes meanwhile.
func (a *Alerter) slowDeregisterParker(p *Parker) {
	var spinner SpinWait

	for {
		if p.Next() == p {
			return
		}

		// expect is whatever this iteration published as the alerter's
		// state while it waits for p to become unlinked; a change away
		// from it (other than to alerted) means we must restart.
		var expect *Parker
		captured := a.state.Load()

		if captured == nil || captured == alerted {
			expect = captured
		} else if !a.state.CAS(captured, nil) {
			// Lost the race to someone else mutating the list; restart.
			continue
		} else {
			if captured == p && p.Next() == nil {
				return
			}

			var first, last *Parker
			current := captured
			for current != nil {
				next := current.Next()
				if current == p || current.IsLocked() {
					current.SetNext(current)
				} else {
					if first == nil {
						first = current
					} else {
						last.SetNext(current)
					}
					last = current
				}
				current = next
			}

			if first != nil {
				for {
					s := a.state.Load()
					if s == alerted {
						last.SetNext(nil)
						alertParkerList(first)
						break
					}
					last.SetNext(s)
					if a.state.CAS(s, first) {
						expect = first
						break
					}
				}
			}
		}

		changed := false
		for p.Next() != p {
			newState := a.state.Load()
			if newState != expect && newState != alerted {
				changed = true
				break
			}
			spinner.SpinOnce()
		}
		if !changed {
			return
		}
	}
}
