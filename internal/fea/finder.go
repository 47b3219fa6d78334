package fea

import (
	"sync"

	"github.com/mgroupd/mgroupd/internal/rpcqueue"
)

// StaticFinder is an in-process Finder standing in for the external
// naming service the original XORP finder process would provide: there
// is nothing to resolve here, so every target is reported alive
// immediately and interest registration always succeeds. Death is
// never reported except by explicit test injection via Kill.
type StaticFinder struct {
	mu     sync.Mutex
	births map[string][]func()
	deaths map[string][]func()
	killed map[string]bool
}

// NewStaticFinder returns a Finder that treats every target as
// permanently alive.
func NewStaticFinder() *StaticFinder {
	return &StaticFinder{
		births: make(map[string][]func()),
		deaths: make(map[string][]func()),
		killed: make(map[string]bool),
	}
}

func (f *StaticFinder) RegisterClassEventInterest(target string, done func(rpcqueue.Outcome)) {
	f.mu.Lock()
	alreadyDead := f.killed[target]
	callbacks := append([]func(){}, f.births[target]...)
	f.mu.Unlock()

	if !alreadyDead {
		for _, cb := range callbacks {
			cb()
		}
	}
	done(rpcqueue.OK)
}

func (f *StaticFinder) DeregisterClassEventInterest(target string, done func(rpcqueue.Outcome)) {
	done(rpcqueue.OK)
}

func (f *StaticFinder) OnTargetBirth(target string, cb func()) {
	f.mu.Lock()
	f.births[target] = append(f.births[target], cb)
	f.mu.Unlock()
}

func (f *StaticFinder) OnTargetDeath(target string, cb func()) {
	f.mu.Lock()
	f.deaths[target] = append(f.deaths[target], cb)
	f.mu.Unlock()
}

// Kill marks target dead and fires its death callbacks, for tests that
// need to exercise rpcqueue.Queue's finder-dead handling without a real
// external process to kill.
func (f *StaticFinder) Kill(target string) {
	f.mu.Lock()
	f.killed[target] = true
	callbacks := append([]func(){}, f.deaths[target]...)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}
