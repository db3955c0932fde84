package neighbor

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/go-ping/ping"

	"github.com/hostinger/neighsync/internal/dataplane"
	"github.com/hostinger/neighsync/internal/hw"
	"github.com/hostinger/neighsync/internal/metrics"
	"github.com/hostinger/neighsync/internal/rc"
	"github.com/hostinger/neighsync/internal/rpc"
)

// ErrDumpInProgress is reported by Sync for a scope whose dump could not
// run because another dump of that scope was in flight.
const ErrDumpInProgress errors.Error = "dump in progress"

// entry is a desired binding and the item its commands report to. mu
// serializes the commands issued against item.
type entry struct {
	mu      sync.Mutex
	binding Binding
	item    *hw.Item[bool]
}

// Status is a desired binding with the outcome of its last command.
type Status struct {
	Binding Binding
	Status  rc.Code
}

// Pinger sends one probe to addr and reports whether it was answered.
type Pinger func(addr netip.Addr, timeout time.Duration) (bool, error)

// NeighborManager keeps the desired bindings and programs them through conn.
type NeighborManager struct {
	mu       sync.Mutex
	conn     rpc.Conn
	metrics  *metrics.Metrics
	bindings map[string]*entry
	pending  []*CreateCmd
	dumping  map[dumpScope]bool
	ping     Pinger
}

func NewNeighborManager(conn rpc.Conn, m *metrics.Metrics) *NeighborManager {
	return &NeighborManager{
		conn:     conn,
		metrics:  m,
		bindings: make(map[string]*entry),
		dumping:  make(map[dumpScope]bool),
		ping:     icmpPing,
	}
}

// SetPinger replaces the probe used by SendPings.
func (nm *NeighborManager) SetPinger(p Pinger) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	nm.ping = p
}

// AddNeighbor records b as desired and programs it. A create equal to one
// already in flight is not issued again and reports rc.NOOP, as does a
// binding that is already programmed.
func (nm *NeighborManager) AddNeighbor(ctx context.Context, b Binding) rc.Code {
	return nm.addNeighbor(ctx, b, false)
}

// addNeighbor issues the create for b. Unless recreate is set, a binding
// whose last create succeeded is left alone. With recreate set, b is only
// programmed if it is still the desired binding for its interface and IP.
func (nm *NeighborManager) addNeighbor(ctx context.Context, b Binding, recreate bool) rc.Code {
	nm.mu.Lock()
	for _, p := range nm.pending {
		if p.Binding().Equal(b) {
			nm.mu.Unlock()
			log.Debug("skipping duplicate create for %s", b)
			return rc.NOOP
		}
	}

	// Items of bindings in the table are only written by pending creates, so
	// reading one here does not race.
	e, exists := nm.bindings[b.Key()]
	if recreate && (!exists || !e.binding.Equal(b)) {
		nm.mu.Unlock()
		log.Debug("%s is no longer desired, not re-creating", b)
		return rc.NOOP
	}
	if exists && e.binding.Equal(b) && e.item.Programmed() && !recreate {
		nm.mu.Unlock()
		return rc.NOOP
	}

	item := hw.NewItem(true, rc.Unset)
	if exists && e.binding.Equal(b) {
		item = e.item
	}
	cmd := NewCreateCmd(item, b)
	nm.pending = append(nm.pending, cmd)

	var stale *entry
	if exists && !e.binding.Equal(b) {
		stale = e
	}
	next := &entry{binding: b, item: item}
	if exists && e.item == item {
		next = e
	}
	nm.bindings[b.Key()] = next
	nm.metrics.Bindings.Set(float64(len(nm.bindings)))
	nm.mu.Unlock()

	defer nm.donePending(cmd)

	if stale != nil {
		// The interface/IP pair moved to a new MAC address.
		nm.issueDelete(ctx, stale)
	}

	next.mu.Lock()
	defer next.mu.Unlock()

	code := cmd.Issue(ctx, nm.conn)
	nm.metrics.ObserveCommand("create", code)
	if code.IsOK() {
		log.Info("programmed %s", b)
	} else {
		log.Error("programming %s: %s", b, code)
	}

	return code
}

func (nm *NeighborManager) donePending(cmd *CreateCmd) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	for i, p := range nm.pending {
		if p == cmd {
			nm.pending = append(nm.pending[:i], nm.pending[i+1:]...)
			return
		}
	}
}

// RemoveNeighbor forgets the binding of ip on itf and removes it from the
// dataplane. It returns rc.NOOP when no such binding is desired.
func (nm *NeighborManager) RemoveNeighbor(ctx context.Context, itf dataplane.Handle, ip netip.Addr) rc.Code {
	key := Binding{Interface: itf, IP: ip}.Key()

	nm.mu.Lock()
	e, ok := nm.bindings[key]
	if ok {
		delete(nm.bindings, key)
		nm.metrics.Bindings.Set(float64(len(nm.bindings)))
	}
	nm.mu.Unlock()

	if !ok {
		return rc.NOOP
	}

	return nm.issueDelete(ctx, e)
}

func (nm *NeighborManager) issueDelete(ctx context.Context, e *entry) rc.Code {
	e.mu.Lock()
	defer e.mu.Unlock()

	cmd := NewDeleteCmd(e.item, e.binding)
	code := cmd.Issue(ctx, nm.conn)
	nm.metrics.ObserveCommand("delete", cmd.Observed())
	log.Info("removed %s", e.binding)

	return code
}

// Has reports whether a binding for ip on itf is desired.
func (nm *NeighborManager) Has(itf dataplane.Handle, ip netip.Addr) bool {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	_, ok := nm.bindings[Binding{Interface: itf, IP: ip}.Key()]

	return ok
}

// ListNeighbors returns the desired bindings sorted by interface and IP. It
// waits for commands in flight against those bindings to complete.
func (nm *NeighborManager) ListNeighbors() []Status {
	nm.mu.Lock()
	entries := make([]*entry, 0, len(nm.bindings))
	for _, e := range nm.bindings {
		entries = append(entries, e)
	}
	nm.mu.Unlock()

	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, Status{Binding: e.binding, Status: e.item.Status()})
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Binding, out[j].Binding
		if a.Interface != b.Interface {
			return a.Interface < b.Interface
		}
		return a.IP.Less(b.IP)
	})

	return out
}

// Dump reads back the entries of family on itf. Only one dump of a given
// interface and family runs at a time; a concurrent call for the same scope
// returns rc.NOOP and no entries.
func (nm *NeighborManager) Dump(ctx context.Context, itf dataplane.Handle, family dataplane.Family) ([]Binding, rc.Code) {
	scope := dumpScope{itf: itf, family: family}

	nm.mu.Lock()
	if nm.dumping[scope] {
		nm.mu.Unlock()
		return nil, rc.NOOP
	}
	nm.dumping[scope] = true
	nm.mu.Unlock()

	defer func() {
		nm.mu.Lock()
		delete(nm.dumping, scope)
		nm.mu.Unlock()
	}()

	cmd := NewDumpCmd(itf, family)
	code := cmd.Issue(ctx, nm.conn)
	nm.metrics.ObserveCommand("dump", code)
	if !code.IsOK() {
		log.Error("%s: %s", cmd, code)
		return nil, code
	}

	found := cmd.Bindings()
	nm.metrics.Dumped.WithLabelValues(itf.String(), family.String()).Set(float64(len(found)))

	return found, code
}

// Sync dumps every interface holding desired bindings and programs again
// the bindings the dataplane lost. It returns the number of bindings
// re-created and an error naming every scope that could not be dumped.
func (nm *NeighborManager) Sync(ctx context.Context) (int, error) {
	desired := nm.ListNeighbors()

	byScope := make(map[dumpScope][]Binding)
	for _, s := range desired {
		scope := dumpScope{itf: s.Binding.Interface, family: s.Binding.Family()}
		byScope[scope] = append(byScope[scope], s.Binding)
	}

	recreated := 0
	var errs []error
	for scope, want := range byScope {
		if err := ctx.Err(); err != nil {
			return recreated, errors.Join(append(errs, err)...)
		}

		have, code := nm.Dump(ctx, scope.itf, scope.family)
		switch {
		case code == rc.NOOP:
			errs = append(errs, fmt.Errorf("dumping %s: %w", scope, ErrDumpInProgress))

			continue
		case !code.IsOK():
			errs = append(errs, fmt.Errorf("dumping %s: %s", scope, code))

			continue
		}

		for _, b := range missing(want, have) {
			log.Warn("%s missing from dataplane, re-creating", b)
			if nm.addNeighbor(ctx, b, true).IsOK() {
				recreated++
			}
		}
	}

	return recreated, errors.Join(errs...)
}

type dumpScope struct {
	itf    dataplane.Handle
	family dataplane.Family
}

func (s dumpScope) String() string { return s.itf.String() + " " + s.family.String() }

func missing(want, have []Binding) []Binding {
	var out []Binding
	for _, w := range want {
		found := false
		for _, h := range have {
			if w.Equal(h) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, w)
		}
	}

	return out
}

// Cleanup removes every desired binding from the dataplane.
func (nm *NeighborManager) Cleanup(ctx context.Context) {
	for _, s := range nm.ListNeighbors() {
		nm.RemoveNeighbor(ctx, s.Binding.Interface, s.Binding.IP)
	}
}

// SendPings probes every programmed binding each interval until ctx is done,
// keeping the neighbors' caches on the other side warm.
func (nm *NeighborManager) SendPings(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		nm.pingAll(interval / 2)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (nm *NeighborManager) pingAll(timeout time.Duration) (answered int) {
	nm.mu.Lock()
	probe := nm.ping
	nm.mu.Unlock()

	for _, s := range nm.ListNeighbors() {
		if !s.Status.IsOK() {
			continue
		}

		ok, err := probe(s.Binding.IP, timeout)
		switch {
		case err != nil:
			log.Debug("pinging %s: %v", s.Binding.IP, err)
		case !ok:
			log.Debug("no reply from %s", s.Binding)
		default:
			answered++
		}
	}

	return answered
}

func icmpPing(addr netip.Addr, timeout time.Duration) (bool, error) {
	pinger, err := ping.NewPinger(addr.String())
	if err != nil {
		return false, err
	}

	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(true)

	if err = pinger.Run(); err != nil {
		return false, err
	}

	return pinger.Statistics().PacketsRecv > 0, nil
}
