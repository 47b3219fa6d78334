package mgroup_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/mgroupd/mgroupd/internal/mgroup"
)

// longSettings uses intervals far longer than any test's execution time,
// so group, source, and querier timers never actually fire during a run;
// tests that exercise timer expiry do so by calling the Handle*Expired
// entry points directly instead of waiting on a real timer.
func longSettings() mgroup.Settings {
	return mgroup.Settings{
		ProtoVersion:            3,
		RouterAlertCheck:        false,
		QueryInterval:           1 * time.Hour,
		QueryLastMemberInterval: 1 * time.Hour,
		QueryResponseInterval:   1 * time.Hour,
		RobustCount:             2,
	}
}

func addr(s string) netip.Addr {
	return netip.MustParseAddr(s)
}

func addrs(ss ...string) []netip.Addr {
	out := make([]netip.Addr, len(ss))
	for i, s := range ss {
		out[i] = addr(s)
	}
	return out
}

// newTestVif builds a v4 vif with a capturing notification sink and a
// discarding send sink, wired with long-enough timers that none of them
// fire spontaneously within a test's lifetime.
func newTestVif(t *testing.T, notify *[]mgroup.Notification) *mgroup.Vif {
	t.Helper()
	v := mgroup.NewVif(1, "eth0", mgroup.FamilyV4, addr("10.0.0.1"), longSettings(),
		func(n mgroup.Notification) {
			if notify != nil {
				*notify = append(*notify, n)
			}
		},
		func(mgroup.OutboundQuery) {},
	)
	return v
}

func sortedAddrStrings(s mgroup.SourceSet) []string {
	out := make([]string, 0, len(s))
	for _, a := range s.SortedAddrs() {
		out = append(out, a.String())
	}
	return out
}
