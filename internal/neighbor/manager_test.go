package neighbor

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostinger/neighsync/internal/dataplane"
	"github.com/hostinger/neighsync/internal/metrics"
	"github.com/hostinger/neighsync/internal/rc"
	"github.com/hostinger/neighsync/internal/rpc"
)

func newTestManager(conn rpc.Conn) (*NeighborManager, *metrics.Metrics) {
	m := metrics.New(prometheus.NewRegistry())
	return NewNeighborManager(conn, m), m
}

func TestAddNeighbor(t *testing.T) {
	conn := &fakeConn{script: replyRetval(0)}
	nm, m := newTestManager(conn)

	code := nm.AddNeighbor(context.Background(), testBinding())

	assert.Equal(t, rc.OK, code)
	assert.True(t, nm.Has(3, netip.MustParseAddr("10.0.0.1")))

	list := nm.ListNeighbors()
	require.Len(t, list, 1)
	assert.Equal(t, rc.OK, list[0].Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Bindings))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsTotal.WithLabelValues("create", "ok")))

	// Programming the same binding again is a no-op.
	assert.Equal(t, rc.NOOP, nm.AddNeighbor(context.Background(), testBinding()))
	assert.Len(t, conn.sent(), 1)
}

func TestAddNeighbor_FailureIsRetried(t *testing.T) {
	conn := &fakeConn{script: replyRetval(-19)}
	nm, _ := newTestManager(conn)

	assert.True(t, nm.AddNeighbor(context.Background(), testBinding()).IsFailure())
	assert.True(t, nm.ListNeighbors()[0].Status.IsFailure())

	conn.script = replyRetval(0)
	assert.Equal(t, rc.OK, nm.AddNeighbor(context.Background(), testBinding()))
	assert.Len(t, conn.sent(), 2)
}

func TestAddNeighbor_DuplicateInFlight(t *testing.T) {
	conn := &fakeConn{script: replyRetval(0), gate: make(chan struct{})}
	nm, _ := newTestManager(conn)

	var wg sync.WaitGroup
	var first rc.Code
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = nm.AddNeighbor(context.Background(), testBinding())
	}()

	require.Eventually(t, func() bool { return len(conn.sent()) == 1 }, time.Second, time.Millisecond)

	assert.Equal(t, rc.NOOP, nm.AddNeighbor(context.Background(), testBinding()))

	close(conn.gate)
	wg.Wait()

	assert.Equal(t, rc.OK, first)
	assert.Len(t, conn.sent(), 1)
}

func TestAddNeighbor_NewMACReplacesEntry(t *testing.T) {
	conn := &fakeConn{script: replyRetval(0)}
	nm, _ := newTestManager(conn)

	require.Equal(t, rc.OK, nm.AddNeighbor(context.Background(), testBinding()))

	moved := testBinding()
	moved.HardwareAddr = parseMAC("02:00:00:00:00:02")
	require.Equal(t, rc.OK, nm.AddNeighbor(context.Background(), moved))

	sent := conn.sent()
	require.Len(t, sent, 3)
	assert.False(t, sent[1].(*dataplane.IPNeighborAddDel).IsAdd)
	assert.True(t, sent[2].(*dataplane.IPNeighborAddDel).IsAdd)

	list := nm.ListNeighbors()
	require.Len(t, list, 1)
	assert.True(t, list[0].Binding.Equal(moved))
}

func TestRemoveNeighbor(t *testing.T) {
	conn := &fakeConn{script: replyRetval(0)}
	nm, m := newTestManager(conn)

	ip := netip.MustParseAddr("10.0.0.1")
	nm.AddNeighbor(context.Background(), testBinding())

	conn.script = replyRetval(-2)
	assert.Equal(t, rc.OK, nm.RemoveNeighbor(context.Background(), 3, ip))
	assert.False(t, nm.Has(3, ip))
	assert.Empty(t, nm.ListNeighbors())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Bindings))
	// The metric keeps the code the dataplane replied with.
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsTotal.WithLabelValues("delete", "failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CommandsTotal.WithLabelValues("delete", "noop")))

	// Unknown bindings are not sent to the dataplane.
	assert.Equal(t, rc.NOOP, nm.RemoveNeighbor(context.Background(), 3, ip))
	assert.Len(t, conn.sent(), 2)
}

func TestListNeighbors_Sorted(t *testing.T) {
	nm, _ := newTestManager(&fakeConn{script: replyRetval(0)})

	for _, b := range []Binding{
		{Interface: 4, IP: netip.MustParseAddr("10.0.0.1"), HardwareAddr: parseMAC("02:00:00:00:00:01")},
		{Interface: 2, IP: netip.MustParseAddr("2001:db8::1"), HardwareAddr: parseMAC("02:00:00:00:00:02")},
		{Interface: 2, IP: netip.MustParseAddr("192.168.1.20"), HardwareAddr: parseMAC("02:00:00:00:00:03")},
	} {
		require.Equal(t, rc.OK, nm.AddNeighbor(context.Background(), b))
	}

	var got []string
	for _, s := range nm.ListNeighbors() {
		got = append(got, s.Binding.Key())
	}

	assert.Equal(t, []string{"2/192.168.1.20", "2/2001:db8::1", "4/10.0.0.1"}, got)
}

func TestDump(t *testing.T) {
	want := Binding{Interface: 3, IP: netip.MustParseAddr("fe80::1"), HardwareAddr: parseMAC("02:00:00:00:00:01")}
	conn := &fakeConn{script: func(rpc.Request) []any { return dumpReplies(want) }}
	nm, m := newTestManager(conn)

	got, code := nm.Dump(context.Background(), 3, dataplane.FamilyV6)

	assert.Equal(t, rc.OK, code)
	assert.Equal(t, []Binding{want}, got)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dumped.WithLabelValues("3", "ipv6")))
}

func TestDump_Failure(t *testing.T) {
	nm, _ := newTestManager(&fakeConn{err: errors.New("down")})

	got, code := nm.Dump(context.Background(), 3, dataplane.FamilyV4)

	assert.True(t, code.IsFailure())
	assert.Nil(t, got)
}

func TestSync_RecreatesLostBindings(t *testing.T) {
	kept := testBinding()
	lost := Binding{Interface: 3, IP: netip.MustParseAddr("10.0.0.2"), HardwareAddr: parseMAC("02:00:00:00:00:02")}

	conn := &fakeConn{script: func(req rpc.Request) []any {
		if _, ok := req.(*dataplane.IPNeighborDump); ok {
			return dumpReplies(kept)
		}
		return []any{&dataplane.IPNeighborAddDelReply{}}
	}}
	nm, _ := newTestManager(conn)

	require.Equal(t, rc.OK, nm.AddNeighbor(context.Background(), kept))
	require.Equal(t, rc.OK, nm.AddNeighbor(context.Background(), lost))

	n, err := nm.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var creates []Binding
	for _, req := range conn.sent() {
		if r, ok := req.(*dataplane.IPNeighborAddDel); ok && r.IsAdd {
			creates = append(creates, fromAPI(r.Neighbor))
		}
	}
	require.Len(t, creates, 3)
	assert.True(t, creates[2].Equal(lost))
}

func TestSync_RemovedDuringDump(t *testing.T) {
	gone := testBinding()

	var nm *NeighborManager
	var once sync.Once
	conn := &fakeConn{script: func(req rpc.Request) []any {
		if _, ok := req.(*dataplane.IPNeighborDump); ok {
			once.Do(func() {
				nm.RemoveNeighbor(context.Background(), gone.Interface, gone.IP)
			})
			return dumpReplies()
		}
		return []any{&dataplane.IPNeighborAddDelReply{}}
	}}
	nm, _ = newTestManager(conn)
	require.Equal(t, rc.OK, nm.AddNeighbor(context.Background(), gone))

	n, err := nm.Sync(context.Background())
	require.NoError(t, err)

	assert.Zero(t, n)
	assert.False(t, nm.Has(gone.Interface, gone.IP))
	assert.Empty(t, nm.ListNeighbors())

	sent := conn.sent()
	require.Len(t, sent, 3)
	assert.False(t, sent[2].(*dataplane.IPNeighborAddDel).IsAdd)
}

// holdDumps blocks dumps of itf inside Execute until release is closed,
// answering every other request like replyRetval(0).
func holdDumps(itf dataplane.Handle, entered chan<- struct{}, release <-chan struct{}) func(rpc.Request) []any {
	return func(req rpc.Request) []any {
		if d, ok := req.(*dataplane.IPNeighborDump); ok && d.SwIfIndex == itf {
			entered <- struct{}{}
			<-release
		}
		return replyRetval(0)(req)
	}
}

func TestSync_OtherScopeDumpInFlight(t *testing.T) {
	entered, release := make(chan struct{}), make(chan struct{})
	conn := &fakeConn{script: holdDumps(9, entered, release)}
	nm, _ := newTestManager(conn)
	require.Equal(t, rc.OK, nm.AddNeighbor(context.Background(), testBinding()))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		nm.Dump(context.Background(), 9, dataplane.FamilyV4)
	}()
	<-entered

	// The dataplane lost the binding; the dump of interface 9 does not
	// hold back the dump of interface 3.
	n, err := nm.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	close(release)
	wg.Wait()
}

func TestSync_SameScopeDumpInFlight(t *testing.T) {
	entered, release := make(chan struct{}), make(chan struct{})
	conn := &fakeConn{script: holdDumps(3, entered, release)}
	nm, _ := newTestManager(conn)
	require.Equal(t, rc.OK, nm.AddNeighbor(context.Background(), testBinding()))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		nm.Dump(context.Background(), 3, dataplane.FamilyV4)
	}()
	<-entered

	got, code := nm.Dump(context.Background(), 3, dataplane.FamilyV4)
	assert.Equal(t, rc.NOOP, code)
	assert.Nil(t, got)

	n, err := nm.Sync(context.Background())
	assert.ErrorIs(t, err, ErrDumpInProgress)
	assert.Zero(t, n)

	close(release)
	wg.Wait()
}

func TestSync_DumpFailureReported(t *testing.T) {
	conn := &fakeConn{script: func(req rpc.Request) []any {
		if _, ok := req.(*dataplane.IPNeighborDump); ok {
			return []any{&dataplane.ControlPingReply{Retval: -19}}
		}
		return []any{&dataplane.IPNeighborAddDelReply{}}
	}}
	nm, _ := newTestManager(conn)
	require.Equal(t, rc.OK, nm.AddNeighbor(context.Background(), testBinding()))

	n, err := nm.Sync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dumping 3 ipv4")
	assert.Zero(t, n)
}

func TestSync_Cancelled(t *testing.T) {
	nm, _ := newTestManager(&fakeConn{script: replyRetval(0)})
	require.Equal(t, rc.OK, nm.AddNeighbor(context.Background(), testBinding()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := nm.Sync(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCleanup(t *testing.T) {
	conn := &fakeConn{script: replyRetval(0)}
	nm, _ := newTestManager(conn)
	require.Equal(t, rc.OK, nm.AddNeighbor(context.Background(), testBinding()))

	nm.Cleanup(context.Background())

	assert.Empty(t, nm.ListNeighbors())
	sent := conn.sent()
	require.Len(t, sent, 2)
	assert.False(t, sent[1].(*dataplane.IPNeighborAddDel).IsAdd)
}

func TestPingAll(t *testing.T) {
	conn := &fakeConn{script: replyRetval(0)}
	nm, _ := newTestManager(conn)
	require.Equal(t, rc.OK, nm.AddNeighbor(context.Background(), testBinding()))

	failed := Binding{Interface: 3, IP: netip.MustParseAddr("10.0.0.9"), HardwareAddr: parseMAC("02:00:00:00:00:09")}
	conn.script = replyRetval(-1)
	nm.AddNeighbor(context.Background(), failed)

	var pinged []netip.Addr
	nm.SetPinger(func(addr netip.Addr, _ time.Duration) (bool, error) {
		pinged = append(pinged, addr)
		return true, nil
	})

	assert.Equal(t, 1, nm.pingAll(time.Millisecond))
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("10.0.0.1")}, pinged)
}
