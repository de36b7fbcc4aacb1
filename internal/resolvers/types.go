// Package resolvers implements the upstream side of the forwarder: an
// ordered pool of resolver endpoints queried with failover, a short-term
// in-memory answer cache, and the error taxonomy the query handler branches
// on.
//
// The short-term cache here is distinct from the durable supercache: it only
// smooths repeated queries over seconds to minutes and vanishes with the
// process. The supercache decision (fall back or not) is driven entirely by
// the error kind a Lookup returns.
package resolvers

import (
	"context"
	"errors"
	"fmt"

	"github.com/miekg/dns"
)

// ErrNoConnections reports that the resolver has no usable upstream servers
// configured. This is an operator configuration error: the handler answers
// SERVFAIL without consulting the supercache, so the misconfiguration stays
// visible instead of being papered over with stale answers.
var ErrNoConnections = errors.New("no upstream servers configured")

// NoRecordsFoundError is an authoritative negative answer: upstream
// explicitly said the name (NXDOMAIN) or the record type (NODATA) does not
// exist. It carries the upstream response code and, when present, the SOA
// record from the authority section so the handler can pass both through
// verbatim.
//
// An authoritative negative is a stronger signal than any cached positive;
// the handler never falls back to the supercache on this error.
type NoRecordsFoundError struct {
	Rcode int
	SOA   dns.RR
}

func (e *NoRecordsFoundError) Error() string {
	return fmt.Sprintf("upstream returned no records (rcode %s)", dns.RcodeToString[e.Rcode])
}

// Resolver issues DNS lookups against upstream servers.
//
// Lookup returns the full record batch of a successful response (answers,
// authority, and additionals, minus the OPT pseudo-record). Error outcomes:
// ErrNoConnections for configuration errors, *NoRecordsFoundError for
// authoritative negatives, and any other error for transient failures such
// as timeouts, which authorize a supercache fallback.
type Resolver interface {
	Lookup(ctx context.Context, qname string, qtype uint16) ([]dns.RR, error)
	Close() error
}
