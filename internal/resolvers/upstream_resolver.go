package resolvers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/singleflight"

	"github.com/jroosing/supercachedns/internal/config"
)

// Resolver tuning constants.
const (
	// DefaultTimeout bounds one Lookup across all upstream attempts. It must
	// stay below the ~5 second timeout of typical stub resolvers so the
	// supercache fallback still reaches the client in time.
	DefaultTimeout = 3 * time.Second

	// upstreamCooldown is how long a failed upstream is skipped before it is
	// tried again.
	upstreamCooldown = 30 * time.Second
)

// UpstreamResolver queries an ordered pool of upstream endpoints.
//
// Endpoints are tried in configuration order. An endpoint that fails is put
// on a cooldown and skipped while healthier ones remain; when every endpoint
// is cooling down, the state is cleared and the pool is retried from the
// top, because a stale "everything is down" verdict is worse than a wasted
// probe.
//
// Concurrent identical questions are coalesced into one upstream exchange,
// and positive answers are held in a short-term in-memory cache. Queries are
// sent as fresh messages with only the question copied from the client, so
// client flags or additional records never leak upstream.
type UpstreamResolver struct {
	specs   []config.UpstreamSpec
	timeout time.Duration

	cache *answerCache
	group singleflight.Group

	healthMu sync.Mutex
	failedAt map[string]time.Time
}

// NewUpstreamResolver builds a resolver over the given endpoint pool.
// timeout <= 0 selects DefaultTimeout.
func NewUpstreamResolver(specs []config.UpstreamSpec, timeout time.Duration) *UpstreamResolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &UpstreamResolver{
		specs:    specs,
		timeout:  timeout,
		cache:    newAnswerCache(0),
		failedAt: map[string]time.Time{},
	}
}

// Close releases resolver resources. Exchanges are connectionless, so there
// is nothing to tear down beyond satisfying the Resolver contract.
func (r *UpstreamResolver) Close() error { return nil }

// Lookup resolves (qname, qtype) against the upstream pool.
func (r *UpstreamResolver) Lookup(ctx context.Context, qname string, qtype uint16) ([]dns.RR, error) {
	if len(r.specs) == 0 {
		return nil, ErrNoConnections
	}

	key := questionKey{Name: dns.CanonicalName(qname), Qtype: qtype}
	if rrs, ok := r.cache.get(key, time.Now()); ok {
		return rrs, nil
	}

	v, err, _ := r.group.Do(flightKey(key), func() (any, error) {
		return r.lookupUpstream(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.([]dns.RR), nil
}

// lookupUpstream performs the actual upstream exchange for one question.
func (r *UpstreamResolver) lookupUpstream(ctx context.Context, key questionKey) ([]dns.RR, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	msg := new(dns.Msg)
	msg.SetQuestion(key.Name, key.Qtype)
	msg.RecursionDesired = true

	var lastErr error
	tried := 0
	for pass := 0; pass < 2 && tried == 0; pass++ {
		if pass == 1 {
			// Every endpoint is cooling down; clear and probe again.
			r.resetHealth()
		}
		for _, spec := range r.specs {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !r.canTry(spec) {
				continue
			}
			tried++

			resp, err := r.exchange(ctx, spec, msg)
			if err != nil {
				lastErr = fmt.Errorf("upstream %s: %w", spec, err)
				r.markFailed(spec)
				continue
			}
			r.markHealthy(spec)

			rrs, err := r.interpret(spec, resp)
			if err != nil {
				if _, negative := err.(*NoRecordsFoundError); negative {
					// Authoritative; no point asking the next endpoint.
					return nil, err
				}
				lastErr = err
				continue
			}

			r.cache.set(key, rrs, time.Now())
			return rrs, nil
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("all upstream servers failed for %s", key.Name)
}

// exchange sends msg to one endpoint over its configured transport,
// retrying truncated UDP answers over TCP.
func (r *UpstreamResolver) exchange(ctx context.Context, spec config.UpstreamSpec, msg *dns.Msg) (*dns.Msg, error) {
	client := &dns.Client{Net: string(spec.Transport), Timeout: r.timeout}
	resp, _, err := client.ExchangeContext(ctx, msg, spec.Addr())
	if err != nil {
		return nil, err
	}

	if resp.Truncated && spec.Transport == config.TransportUDP {
		tcpClient := &dns.Client{Net: "tcp", Timeout: r.timeout}
		resp, _, err = tcpClient.ExchangeContext(ctx, msg, spec.Addr())
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// interpret translates an upstream response into the Lookup contract:
// a record batch, an authoritative negative, or a transient error.
func (r *UpstreamResolver) interpret(spec config.UpstreamSpec, resp *dns.Msg) ([]dns.RR, error) {
	switch resp.Rcode {
	case dns.RcodeNameError:
		return nil, &NoRecordsFoundError{Rcode: resp.Rcode, SOA: findSOA(resp.Ns)}
	case dns.RcodeSuccess:
		if len(resp.Answer) == 0 {
			return nil, &NoRecordsFoundError{Rcode: resp.Rcode, SOA: findSOA(resp.Ns)}
		}
		return collectRecords(resp), nil
	default:
		return nil, fmt.Errorf("upstream %s answered %s", spec, dns.RcodeToString[resp.Rcode])
	}
}

// collectRecords flattens a response into one batch: answers, authority,
// additionals. The OPT pseudo-record is dropped; it describes the transport,
// not the name.
func collectRecords(resp *dns.Msg) []dns.RR {
	out := make([]dns.RR, 0, len(resp.Answer)+len(resp.Ns)+len(resp.Extra))
	out = append(out, resp.Answer...)
	out = append(out, resp.Ns...)
	for _, rr := range resp.Extra {
		if rr.Header().Rrtype == dns.TypeOPT {
			continue
		}
		out = append(out, rr)
	}
	return out
}

// findSOA returns the first SOA record in an authority section, or nil.
func findSOA(authority []dns.RR) dns.RR {
	for _, rr := range authority {
		if rr.Header().Rrtype == dns.TypeSOA {
			return rr
		}
	}
	return nil
}

func flightKey(key questionKey) string {
	return fmt.Sprintf("%s/%d", strings.ToLower(key.Name), key.Qtype)
}

func (r *UpstreamResolver) canTry(spec config.UpstreamSpec) bool {
	r.healthMu.Lock()
	defer r.healthMu.Unlock()

	failedAt, ok := r.failedAt[spec.Addr()]
	if !ok {
		return true
	}
	if time.Since(failedAt) >= upstreamCooldown {
		delete(r.failedAt, spec.Addr())
		return true
	}
	return false
}

func (r *UpstreamResolver) markFailed(spec config.UpstreamSpec) {
	r.healthMu.Lock()
	defer r.healthMu.Unlock()
	if _, ok := r.failedAt[spec.Addr()]; !ok {
		r.failedAt[spec.Addr()] = time.Now()
	}
}

func (r *UpstreamResolver) markHealthy(spec config.UpstreamSpec) {
	r.healthMu.Lock()
	defer r.healthMu.Unlock()
	delete(r.failedAt, spec.Addr())
}

func (r *UpstreamResolver) resetHealth() {
	r.healthMu.Lock()
	defer r.healthMu.Unlock()
	r.failedAt = map[string]time.Time{}
}
