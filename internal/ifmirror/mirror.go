package ifmirror

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/ovn-org/libovsdb/cache"
	"github.com/ovn-org/libovsdb/client"
	"github.com/ovn-org/libovsdb/model"
)

// coalesceWindow batches bursts of row-level cache events (libovsdb
// delivers one callback per changed row) into a single updates_made
// upcall, matching spec.md Section 4.8's "reconcile changed
// interfaces/addresses" as one operation rather than one per row.
const coalesceWindow = 50 * time.Millisecond

// InterfaceState is one interface's externally observed state,
// translated from an interfaceRow.
type InterfaceState struct {
	Name  string
	Up    bool
	MTU   int
	Addrs []netip.Prefix
}

// Mirror is a read-only observer of the externally published
// interface tree (spec.md Section 4.8). It owns no Vifs itself; it
// only reports what it observes through the two callbacks registered
// via OnTreeComplete and OnUpdate.
type Mirror struct {
	logger  *slog.Logger
	dbModel model.ClientDBModel
	ovsdb   client.Client

	mu    sync.Mutex
	state map[string]InterfaceState

	onTreeComplete func()
	onUpdate       func(snapshot map[string]InterfaceState)

	coalesce     *time.Timer
	coalescePend bool
}

// NewMirror constructs a Mirror that will connect to the OVSDB
// endpoint given to Connect. logger defaults to slog.Default().
func NewMirror(logger *slog.Logger) (*Mirror, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dbModel, err := clientDBModel()
	if err != nil {
		return nil, fmt.Errorf("build interface mirror db model: %w", err)
	}

	return &Mirror{
		logger:  logger.With(slog.String("component", "ifmirror")),
		dbModel: dbModel,
		state:   make(map[string]InterfaceState),
	}, nil
}

// OnTreeComplete registers the callback fired once, after the initial
// MonitorAll snapshot has been fully applied (spec.md Section 4.8's
// tree_complete).
func (m *Mirror) OnTreeComplete(f func()) { m.onTreeComplete = f }

// OnUpdate registers the callback fired after every coalesced batch of
// row changes following the initial snapshot (spec.md Section 4.8's
// updates_made). snapshot is the full current interface set, keyed by
// name, not a diff — reconciliation against Node's Vif table is the
// caller's job.
func (m *Mirror) OnUpdate(f func(snapshot map[string]InterfaceState)) { m.onUpdate = f }

// Connect opens the OVSDB connection to endpoint (e.g.
// "unix:/var/run/ifmgr/ovsdb.sock"), registers the cache event
// handler, and blocks until the initial MonitorAll snapshot has been
// delivered, at which point it invokes the tree_complete callback.
func (m *Mirror) Connect(ctx context.Context, endpoint string) error {
	c, err := client.NewOVSDBClient(m.dbModel, client.WithEndpoint(endpoint))
	if err != nil {
		return fmt.Errorf("new ovsdb client: %w", err)
	}

	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", endpoint, err)
	}

	c.Cache().AddEventHandler(&cache.EventHandlerFuncs{
		AddFunc:    m.handleAddOrUpdate,
		UpdateFunc: func(table string, _ model.Model, new model.Model) { m.handleAddOrUpdate(table, new) },
		DeleteFunc: m.handleDelete,
	})

	if _, err := c.MonitorAll(ctx); err != nil {
		_ = c.Disconnect()
		return fmt.Errorf("monitor all: %w", err)
	}

	m.ovsdb = c
	m.logger.Info("interface tree snapshot complete", slog.Int("count", len(m.state)))

	if m.onTreeComplete != nil {
		m.onTreeComplete()
	}

	return nil
}

// Disconnect closes the OVSDB connection.
func (m *Mirror) Disconnect() {
	if m.ovsdb != nil {
		m.ovsdb.Disconnect()
	}
}

// Snapshot returns a copy of the current observed interface set.
func (m *Mirror) Snapshot() map[string]InterfaceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]InterfaceState, len(m.state))
	for k, v := range m.state {
		out[k] = v
	}
	return out
}

func (m *Mirror) handleAddOrUpdate(table string, rowModel model.Model) {
	if table != "Interface" {
		return
	}
	row, ok := rowModel.(*interfaceRow)
	if !ok {
		return
	}

	st := InterfaceState{
		Name: row.Name,
		Up:   row.LinkState == "up",
		MTU:  row.MTU,
	}
	for _, cidr := range row.Addresses {
		if p, err := netip.ParsePrefix(cidr); err == nil {
			st.Addrs = append(st.Addrs, p)
		} else {
			m.logger.Warn("unparsable interface address", slog.String("interface", row.Name), slog.String("addr", cidr))
		}
	}

	m.mu.Lock()
	m.state[row.Name] = st
	m.mu.Unlock()

	m.scheduleUpdate()
}

func (m *Mirror) handleDelete(table string, rowModel model.Model) {
	if table != "Interface" {
		return
	}
	row, ok := rowModel.(*interfaceRow)
	if !ok {
		return
	}

	m.mu.Lock()
	delete(m.state, row.Name)
	m.mu.Unlock()

	m.scheduleUpdate()
}

// scheduleUpdate coalesces a burst of row-level callbacks into one
// updates_made call, fired coalesceWindow after the last row changed.
// Before the initial snapshot completes (onTreeComplete not yet
// fired), this only updates m.state; Connect's own tree_complete
// upcall covers the initial batch so no premature updates_made fires.
func (m *Mirror) scheduleUpdate() {
	if m.ovsdb == nil {
		// Still inside the initial MonitorAll snapshot.
		return
	}
	if m.onUpdate == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.coalescePend {
		return
	}
	m.coalescePend = true
	m.coalesce = time.AfterFunc(coalesceWindow, func() {
		m.mu.Lock()
		m.coalescePend = false
		snapshot := make(map[string]InterfaceState, len(m.state))
		for k, v := range m.state {
			snapshot[k] = v
		}
		m.mu.Unlock()
		m.onUpdate(snapshot)
	})
}
