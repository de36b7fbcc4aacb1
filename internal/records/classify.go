package records

import (
	"time"

	"github.com/miekg/dns"
)

// Sections is a record batch partitioned into the four DNS response
// sections. Order within each slice preserves the source order of the batch;
// nothing is deduplicated.
type Sections struct {
	Answers     []dns.RR
	NameServers []dns.RR
	SOA         []dns.RR
	Additionals []dns.RR
}

// Classify partitions a record batch for the response to a query on qname
// and rewrites every TTL to its remaining lifetime.
//
// receivedAt is the instant the batch was fetched from upstream: the moment
// the handler got it for a fresh answer, or the stored fetch time for a
// supercache fallback. Each record's remaining lifetime is
// max(0, receivedAt + TTL - now); a record past its expiry stays in the
// output with TTL 0, telling downstream caches "use once, do not keep".
// That single rule serves both fresh and stale batches, which is why the
// supercache stores a fetch timestamp rather than an expiry.
//
// Partitioning, first match wins: SOA records; NS records; records whose
// name equals qname (DNS names compare case-insensitively, so both sides
// are canonicalized); everything else is additional data.
//
// Records are value-copied; the input batch is not modified.
func Classify(qname string, rrs []dns.RR, receivedAt, now time.Time) Sections {
	var s Sections
	want := dns.CanonicalName(qname)

	for _, rr := range rrs {
		cp := dns.Copy(rr)
		hdr := cp.Header()
		hdr.Ttl = remainingTTL(hdr.Ttl, receivedAt, now)

		switch {
		case hdr.Rrtype == dns.TypeSOA:
			s.SOA = append(s.SOA, cp)
		case hdr.Rrtype == dns.TypeNS:
			s.NameServers = append(s.NameServers, cp)
		case dns.CanonicalName(hdr.Name) == want:
			s.Answers = append(s.Answers, cp)
		default:
			s.Additionals = append(s.Additionals, cp)
		}
	}
	return s
}

// remainingTTL computes the seconds left until receivedAt+ttl, clamped at 0.
func remainingTTL(ttl uint32, receivedAt, now time.Time) uint32 {
	expiresAt := receivedAt.Add(time.Duration(ttl) * time.Second)
	remaining := expiresAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return uint32(remaining / time.Second)
}
