package main

import (
	"log/slog"
	"net/netip"

	"github.com/mgroupd/mgroupd/internal/mgroup"
	"github.com/mgroupd/mgroupd/internal/rpcqueue"
)

// loggingNotifyClient is the downstream multicast-routing-protocol ABI's
// production stand-in: there is no PIM/DVMRP process anywhere in this
// daemon to hand JOIN/PRUNE upcalls to, so it just logs each call and
// reports success. A real deployment replaces this with whatever client
// speaks to the actual downstream protocol daemon; the rpcqueue.Queue
// and Q-notify task wiring around it does not change.
type loggingNotifyClient struct {
	logger *slog.Logger
}

func newLoggingNotifyClient(logger *slog.Logger) *loggingNotifyClient {
	return &loggingNotifyClient{logger: logger.With(slog.String("component", "notify_client"))}
}

func (c *loggingNotifyClient) AddMembership(vifName string, source, group netip.Addr, done func(rpcqueue.Outcome)) {
	c.logger.Info("add membership", "vif", vifName, "source", source, "group", group)
	done(rpcqueue.OK)
}

func (c *loggingNotifyClient) DeleteMembership(vifName string, source, group netip.Addr, done func(rpcqueue.Outcome)) {
	c.logger.Info("delete membership", "vif", vifName, "source", source, "group", group)
	done(rpcqueue.OK)
}

// notifySubscriber implements mgroup.NotifySink by enqueueing one
// AddDeleteMembershipTask per Notification onto the Q-notify queue, the
// C7 orchestrator role spec.md Section 6 assigns to the downstream ABI.
type notifySubscriber struct {
	client rpcqueue.NotifyClient
	queue  *rpcqueue.Queue
}

func newNotifySubscriber(client rpcqueue.NotifyClient, queue *rpcqueue.Queue) *notifySubscriber {
	return &notifySubscriber{client: client, queue: queue}
}

func (s *notifySubscriber) Notify(n mgroup.Notification) {
	s.queue.Enqueue(&rpcqueue.AddDeleteMembershipTask{
		Client:  s.client,
		VifName: n.VifName,
		Source:  n.Source,
		Group:   n.Group,
		IsAdd:   n.Action == mgroup.ActionJoin,
	})
}
