package main

import (
	"log/slog"

	"github.com/mgroupd/mgroupd/internal/config"
	"github.com/mgroupd/mgroupd/internal/mgroup"
	"github.com/mgroupd/mgroupd/internal/rpcqueue"
	"github.com/mgroupd/mgroupd/internal/wire"
)

// notifyModuleName identifies this daemon's own downstream-protocol
// subscription when calling mgroup.Node.AddProtocol. There is only ever
// one subscriber (loggingNotifyClient, see notify.go), at module ID 0.
const notifyModuleName = "mgroupd"

// reconcile drives cfg's vif set into both nodes, per spec.md Section
// 4.9: called once at startup and again on every SIGHUP. Newly added
// vifs are started, handed a raw-socket receiver registration, and
// subscribed to membership notifications; vifs dropped from cfg are
// torn down by Node.ReconcileVifs itself.
func (d *daemon) reconcile(cfg *config.Config) {
	v4Descs, v6Descs, err := cfg.ToVifDescs()
	if err != nil {
		d.logger.Error("failed to build vif descriptors from configuration", slog.String("error", err.Error()))
		return
	}

	d.nodeV4.ReconcileVifs(v4Descs)
	d.nodeV6.ReconcileVifs(v6Descs)

	d.startAndWireVifs(mgroup.FamilyV4, d.nodeV4, ipProtoIGMP, d.receiversV4, d.subscribedV4)
	d.startAndWireVifs(mgroup.FamilyV6, d.nodeV6, ipProtoICMPv6, d.receiversV6, d.subscribedV6)
}

// startAndWireVifs starts every not-yet-running vif on node and, for
// any vif this daemon has not yet wired a packet receiver or
// notification subscription for, does both:
//
//  1. issues a RegisterUnregisterReceiverTask on Q-primary (the MFEA
//     ABI's register_receiver, which itself preregisters a placeholder
//     callback keyed by ifName on the raw socket);
//  2. right after enqueueing that task, without waiting for its outcome,
//     installs the real decode-and-dispatch callback with a direct
//     rawFEA.Recv call, since RawSocketFEA dispatches inbound packets to
//     the exact ifName the kernel's control message names, not to a
//     blanket registration. RegisterReceiver keeps a callback already
//     installed for ifName, so whichever of the two runs first, the
//     real callback is the one left in place.
func (d *daemon) startAndWireVifs(family mgroup.Family, node *mgroup.Node, ipProto int, receivers map[string]bool, subscribed map[uint32]bool) {
	for _, vif := range node.Vifs() {
		if !vif.IsUp {
			vif.Start()
		}

		if !subscribed[vif.Index] {
			if err := node.AddProtocol(notifyModuleName, 0, vif.Index, d.notifySub); err != nil {
				d.logger.Warn("failed to subscribe to vif membership notifications",
					slog.String("vif", vif.Name), slog.String("error", err.Error()))
			} else {
				subscribed[vif.Index] = true
			}
		}

		if receivers[vif.Name] {
			continue
		}
		vifName, vifFamily := vif.Name, family
		d.primaryQueue.Enqueue(&rpcqueue.RegisterUnregisterReceiverTask{
			Client:     d.client,
			IfName:     vifName,
			VifName:    vifName,
			IPProto:    ipProto,
			IsRegister: true,
		})
		if err := d.rawFEA.Recv(vifName, ipProto, func(msg rpcqueue.ProtocolMessage) {
			d.handleInbound(vifFamily, msg)
		}); err != nil {
			d.logger.Warn("failed to install packet receiver",
				slog.String("vif", vifName), slog.String("error", err.Error()))
			continue
		}
		receivers[vifName] = true
	}
}

// handleInbound decodes one raw inbound packet and routes its reports
// and/or query to the owning node and vif (spec.md Section 4.6's
// demux-by-interface-name, Section 4.5's query handling).
func (d *daemon) handleInbound(family mgroup.Family, msg rpcqueue.ProtocolMessage) {
	node := d.nodeV4
	if family == mgroup.FamilyV6 {
		node = d.nodeV6
	}

	decoded, err := wire.Decode(family, msg)
	if err != nil {
		d.logger.Debug("dropping undecodable packet",
			slog.String("vif", msg.IfName), slog.String("error", err.Error()))
		return
	}

	for _, report := range decoded.Reports {
		node.ProtoRecv(msg.IfName, report)
	}

	if q := decoded.Query; q != nil {
		vif, ok := node.VifByName(msg.IfName)
		if ok && vif.IsUp {
			vif.ReceiveQuery(q.Kind, msg.Src, q.Group, q.Sources)
		}
	}
}
