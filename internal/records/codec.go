// Package records turns upstream record batches into DNS response sections
// with recomputed TTLs, and serializes record sets for the supercache.
package records

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

// storedRecord is the JSON shape of one resource record in the supercache.
// RData holds the record data in presentation format, which round-trips
// through the zone parser for every type, including unknown ones (RFC 3597).
type storedRecord struct {
	Name  string `json:"name"`
	Type  uint16 `json:"type"`
	Class uint16 `json:"class"`
	TTL   uint32 `json:"ttl"`
	RData string `json:"rdata"`
}

// EncodeJSON serializes a record set into the supercache content blob.
func EncodeJSON(rrs []dns.RR) (string, error) {
	stored := make([]storedRecord, 0, len(rrs))
	for _, rr := range rrs {
		hdr := rr.Header()
		stored = append(stored, storedRecord{
			Name:  hdr.Name,
			Type:  hdr.Rrtype,
			Class: hdr.Class,
			TTL:   hdr.Ttl,
			RData: rdataString(rr),
		})
	}
	b, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("failed to encode record set: %w", err)
	}
	return string(b), nil
}

// DecodeJSON deserializes a supercache content blob back into records.
func DecodeJSON(content string) ([]dns.RR, error) {
	var stored []storedRecord
	if err := json.Unmarshal([]byte(content), &stored); err != nil {
		return nil, fmt.Errorf("failed to decode record set: %w", err)
	}

	rrs := make([]dns.RR, 0, len(stored))
	for _, s := range stored {
		text := fmt.Sprintf("%s %d %s %s %s",
			dns.Fqdn(s.Name), s.TTL, dns.Class(s.Class), dns.Type(s.Type), s.RData)
		rr, err := dns.NewRR(text)
		if err != nil {
			return nil, fmt.Errorf("failed to parse stored record %q: %w", text, err)
		}
		if rr == nil {
			return nil, fmt.Errorf("stored record %q parsed to nothing", text)
		}
		rrs = append(rrs, rr)
	}
	return rrs, nil
}

// rdataString extracts the presentation-format RDATA of a record by
// stripping the header prefix from its full presentation form.
func rdataString(rr dns.RR) string {
	return strings.TrimPrefix(rr.String(), rr.Header().String())
}
