package main

import (
	"github.com/mgroupd/mgroupd/internal/mgroup"
	"github.com/mgroupd/mgroupd/internal/rpcqueue"
	"github.com/mgroupd/mgroupd/internal/wire"
)

// querySendSink implements mgroup.SendSink for one address family: it
// renders an OutboundQuery to wire format and enqueues it as a
// send_protocol_message task on Q-primary, the C7 task producer role
// spec.md Section 4.7 assigns the Vif's transport sink.
type querySendSink struct {
	family mgroup.Family
	client rpcqueue.Client
	queue  *rpcqueue.Queue
}

func newQuerySendSink(family mgroup.Family, client rpcqueue.Client, queue *rpcqueue.Queue) *querySendSink {
	return &querySendSink{family: family, client: client, queue: queue}
}

func (s *querySendSink) SendQuery(q mgroup.OutboundQuery) {
	msg := wire.EncodeQuery(s.family, q)
	s.queue.Enqueue(&rpcqueue.SendProtocolMessageTask{Client: s.client, Message: msg})
}
