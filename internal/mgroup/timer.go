package mgroup

import "time"

// oneShotTimer is the shared rearm/cancel/lower/remaining idiom used by
// GroupRecord's several one-shot timers (group timer, compatibility-mode
// host-present timers). SourceRecord hand-rolls the same idiom directly
// since it has only one timer to manage; GroupRecord has four and pulls
// the idiom out to avoid repeating it four times.
type oneShotTimer struct {
	timer    *time.Timer
	deadline time.Time
	seq      uint64
}

// set (re)arms the timer to fire in d. fire receives the seq current at
// arm time; callers compare it against currentSeq() before acting, so a
// stale callback from an already-superseded arm is a no-op.
func (t *oneShotTimer) set(d time.Duration, fire func(seq uint64)) {
	t.cancel()
	t.seq++
	seq := t.seq
	t.deadline = time.Now().Add(d)
	t.timer = time.AfterFunc(d, func() { fire(seq) })
}

func (t *oneShotTimer) cancel() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.deadline = time.Time{}
	t.seq++
}

func (t *oneShotTimer) running() bool {
	return t.timer != nil
}

func (t *oneShotTimer) remaining() (time.Duration, bool) {
	if t.timer == nil || t.deadline.IsZero() {
		return 0, false
	}
	d := time.Until(t.deadline)
	if d < 0 {
		d = 0
	}
	return d, true
}

// lower rearms to d only if that is sooner than the time remaining.
func (t *oneShotTimer) lower(d time.Duration, fire func(seq uint64)) {
	remaining, running := t.remaining()
	if running && remaining <= d {
		return
	}
	t.set(d, fire)
}

func (t *oneShotTimer) currentSeq() uint64 {
	return t.seq
}
