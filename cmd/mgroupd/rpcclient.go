package main

import (
	"net/netip"

	"github.com/mgroupd/mgroupd/internal/fea"
	"github.com/mgroupd/mgroupd/internal/rpcqueue"
)

// collaboratorClient adapts one fea.FEA + fea.MFEA + fea.Finder triple
// into the rpcqueue.Client union interface the Q-primary queue's task
// types dispatch through. In this daemon the FEA, MFEA, and finder are
// all satisfied by the same in-process collaborator (fea.RawSocketFEA
// for the transport pair, fea.StaticFinder for naming), but the
// interface stays three-way so a future split-process deployment only
// needs a different wiring in main, not a different Client.
type collaboratorClient struct {
	fea    fea.FEA
	mfea   fea.MFEA
	finder fea.Finder
}

func newCollaboratorClient(f fea.FEA, m fea.MFEA, n fea.Finder) *collaboratorClient {
	return &collaboratorClient{fea: f, mfea: m, finder: n}
}

func (c *collaboratorClient) RegisterInterest(target string, done func(rpcqueue.Outcome)) {
	c.finder.RegisterClassEventInterest(target, done)
}

func (c *collaboratorClient) UnregisterInterest(target string, done func(rpcqueue.Outcome)) {
	c.finder.DeregisterClassEventInterest(target, done)
}

func (c *collaboratorClient) RegisterClassEventInterest(target string, done func(rpcqueue.Outcome)) {
	c.finder.RegisterClassEventInterest(target, done)
}

func (c *collaboratorClient) DeregisterClassEventInterest(target string, done func(rpcqueue.Outcome)) {
	c.finder.DeregisterClassEventInterest(target, done)
}

func (c *collaboratorClient) RegisterReceiver(ifName, vifName string, ipProto int, mcastLoopback bool, done func(rpcqueue.Outcome)) {
	c.mfea.RegisterReceiver(ifName, vifName, ipProto, mcastLoopback, done)
}

func (c *collaboratorClient) UnregisterReceiver(ifName, vifName string, ipProto int, done func(rpcqueue.Outcome)) {
	c.mfea.UnregisterReceiver(ifName, vifName, ipProto, done)
}

func (c *collaboratorClient) JoinMulticastGroup(ifName, vifName string, ipProto int, group netip.Addr, done func(rpcqueue.Outcome)) {
	c.fea.JoinGroup(ifName, vifName, ipProto, group, done)
}

func (c *collaboratorClient) LeaveMulticastGroup(ifName, vifName string, ipProto int, group netip.Addr, done func(rpcqueue.Outcome)) {
	c.fea.LeaveGroup(ifName, vifName, ipProto, group, done)
}

func (c *collaboratorClient) SendProtocolMessage(msg rpcqueue.ProtocolMessage, done func(rpcqueue.Outcome)) {
	c.fea.Send(msg, done)
}
