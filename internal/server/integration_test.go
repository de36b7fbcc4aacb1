package server

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/supercachedns/internal/config"
	"github.com/jroosing/supercachedns/internal/database"
	"github.com/jroosing/supercachedns/internal/resolvers"
)

// startFakeUpstream serves a fixed A record on a loopback UDP port.
func startFakeUpstream(t *testing.T) config.UpstreamSpec {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &dns.Server{PacketConn: pc, Handler: dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		rr, _ := dns.NewRR(req.Question[0].Name + " 300 IN A 192.0.2.1")
		m.Answer = []dns.RR{rr}
		_ = w.WriteMsg(m)
	})}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	spec, err := config.ParseUpstreamSpec(pc.LocalAddr().String())
	require.NoError(t, err)
	return spec
}

// TestForwarderSurvivesUpstreamOutage walks the core supercache story:
// a name resolved while upstream was healthy keeps resolving after upstream
// dies, even across a forwarder restart, with TTLs aged accordingly.
func TestForwarderSurvivesUpstreamOutage(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(filepath.Join(t.TempDir(), "supercache.db"))
	require.NoError(t, err)
	defer db.Close()

	upstream := startFakeUpstream(t)

	// Healthy upstream: fresh answer, row written through.
	resolver := resolvers.NewUpstreamResolver([]config.UpstreamSpec{upstream}, time.Second)
	h := &QueryHandler{Resolver: resolver, Store: db}

	resp := h.Handle(ctx, testQuery(1, "example.com.", dns.TypeA))
	require.NotNil(t, resp)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, uint32(300), resp.Answer[0].Header().Ttl)

	// The write-through is detached; wait for the row to land.
	require.Eventually(t, func() bool {
		n, err := db.CountRecords(ctx)
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond, "expected the supercache row to appear")
	require.NoError(t, resolver.Close())

	// "Restart" with the upstream gone: a fresh resolver has no short-term
	// cache, so the lookup fails and the supercache answers.
	deadResolver := resolvers.NewUpstreamResolver([]config.UpstreamSpec{deadUpstream(t)}, 300*time.Millisecond)
	defer deadResolver.Close()
	h = &QueryHandler{Resolver: deadResolver, Store: db}

	resp = h.Handle(ctx, testQuery(2, "example.com.", dns.TypeA))
	require.NotNil(t, resp)
	assert.Equal(t, uint16(2), resp.Id)
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Len(t, resp.Answer, 1, "the supercache must answer when upstream is down")
	assert.LessOrEqual(t, resp.Answer[0].Header().Ttl, uint32(300))

	// Operator evicts the row: the safety net is gone.
	deleted, err := db.DeleteRecord(ctx, "example.com.", "A")
	require.NoError(t, err)
	require.True(t, deleted)

	resp = h.Handle(ctx, testQuery(3, "example.com.", dns.TypeA))
	require.NotNil(t, resp)
	assert.Equal(t, dns.RcodeServerFailure, resp.Rcode)
}

// deadUpstream returns a spec for a loopback port with no listener.
func deadUpstream(t *testing.T) config.UpstreamSpec {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := pc.LocalAddr().String()
	require.NoError(t, pc.Close())

	spec, err := config.ParseUpstreamSpec(addr)
	require.NoError(t, err)
	return spec
}
