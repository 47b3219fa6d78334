package fea_test

import (
	"testing"

	"github.com/mgroupd/mgroupd/internal/fea"
	"github.com/mgroupd/mgroupd/internal/rpcqueue"
)

func TestStaticFinderRegisterAlwaysSucceeds(t *testing.T) {
	t.Parallel()

	f := fea.NewStaticFinder()
	var got rpcqueue.Outcome
	f.RegisterClassEventInterest("mfea", func(o rpcqueue.Outcome) { got = o })
	if got != rpcqueue.OK {
		t.Fatalf("RegisterClassEventInterest outcome = %s, want OK", got)
	}

	f.DeregisterClassEventInterest("mfea", func(o rpcqueue.Outcome) { got = o })
	if got != rpcqueue.OK {
		t.Fatalf("DeregisterClassEventInterest outcome = %s, want OK", got)
	}
}

func TestStaticFinderFiresBirthOnRegisterWhenNotKilled(t *testing.T) {
	t.Parallel()

	f := fea.NewStaticFinder()
	born := false
	f.OnTargetBirth("mfea", func() { born = true })

	f.RegisterClassEventInterest("mfea", func(rpcqueue.Outcome) {})
	if !born {
		t.Fatalf("a live target's birth callback must fire on RegisterClassEventInterest")
	}
}

func TestStaticFinderKillFiresDeathAndSuppressesFutureBirth(t *testing.T) {
	t.Parallel()

	f := fea.NewStaticFinder()
	var deaths, births int
	f.OnTargetDeath("mfea", func() { deaths++ })
	f.OnTargetBirth("mfea", func() { births++ })

	f.Kill("mfea")
	if deaths != 1 {
		t.Fatalf("deaths = %d, want 1 after Kill", deaths)
	}

	f.RegisterClassEventInterest("mfea", func(rpcqueue.Outcome) {})
	if births != 0 {
		t.Fatalf("a killed target's birth callback must not fire again, got %d calls", births)
	}
}

func TestStaticFinderKillIsPerTarget(t *testing.T) {
	t.Parallel()

	f := fea.NewStaticFinder()
	var mfeaBirths, igmpBirths int
	f.OnTargetBirth("mfea", func() { mfeaBirths++ })
	f.OnTargetBirth("igmp", func() { igmpBirths++ })

	f.Kill("mfea")

	f.RegisterClassEventInterest("mfea", func(rpcqueue.Outcome) {})
	f.RegisterClassEventInterest("igmp", func(rpcqueue.Outcome) {})

	if mfeaBirths != 0 {
		t.Fatalf("killed target mfea must not re-fire birth, got %d", mfeaBirths)
	}
	if igmpBirths != 1 {
		t.Fatalf("unrelated target igmp must still fire birth normally, got %d", igmpBirths)
	}
}
