package records

import (
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	require.NoError(t, err)
	return rr
}

func TestClassify_TTLRewrite(t *testing.T) {
	receivedAt := time.Unix(100, 0)
	rr := mustRR(t, "example.com. 300 IN A 1.2.3.4")

	tests := []struct {
		name    string
		now     time.Time
		wantTTL uint32
	}{
		{"fresh", time.Unix(100, 0), 300},
		{"aged 100s", time.Unix(200, 0), 200},
		{"expires exactly now", time.Unix(400, 0), 0},
		{"long expired", time.Unix(5000, 0), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Classify("example.com.", []dns.RR{rr}, receivedAt, tt.now)
			require.Len(t, s.Answers, 1, "expired records stay in the response")
			assert.Equal(t, tt.wantTTL, s.Answers[0].Header().Ttl)
		})
	}

	// The input record is untouched.
	assert.Equal(t, uint32(300), rr.Header().Ttl)
}

func TestClassify_Partitioning(t *testing.T) {
	receivedAt := time.Unix(100, 0)
	rrs := []dns.RR{
		mustRR(t, "example.com. 300 IN A 1.2.3.4"),
		mustRR(t, "example.com. 300 IN NS ns1.example.com."),
		mustRR(t, "example.com. 300 IN SOA ns1.example.com. admin.example.com. 1 7200 3600 1209600 300"),
		mustRR(t, "ns1.example.com. 300 IN A 5.6.7.8"),
		mustRR(t, "example.com. 300 IN AAAA 2001:db8::1"),
	}

	s := Classify("example.com.", rrs, receivedAt, receivedAt)

	require.Len(t, s.Answers, 2)
	assert.Equal(t, dns.TypeA, s.Answers[0].Header().Rrtype)
	assert.Equal(t, dns.TypeAAAA, s.Answers[1].Header().Rrtype, "source order preserved")

	require.Len(t, s.NameServers, 1)
	assert.Equal(t, dns.TypeNS, s.NameServers[0].Header().Rrtype)

	require.Len(t, s.SOA, 1)
	assert.Equal(t, dns.TypeSOA, s.SOA[0].Header().Rrtype)

	require.Len(t, s.Additionals, 1)
	assert.Equal(t, "ns1.example.com.", s.Additionals[0].Header().Name)
}

func TestClassify_SOABeatsNameMatch(t *testing.T) {
	// An SOA whose owner equals the query name still lands in the SOA
	// bucket: type checks come before the name comparison.
	rrs := []dns.RR{
		mustRR(t, "example.com. 300 IN SOA ns1.example.com. admin.example.com. 1 7200 3600 1209600 300"),
		mustRR(t, "example.com. 300 IN NS ns1.example.com."),
	}

	s := Classify("example.com.", rrs, time.Unix(0, 0), time.Unix(0, 0))
	assert.Empty(t, s.Answers)
	assert.Len(t, s.SOA, 1)
	assert.Len(t, s.NameServers, 1)
}

func TestClassify_NameComparisonIsCaseInsensitive(t *testing.T) {
	rrs := []dns.RR{mustRR(t, "EXAMPLE.com. 300 IN A 1.2.3.4")}

	s := Classify("example.COM.", rrs, time.Unix(0, 0), time.Unix(0, 0))
	assert.Len(t, s.Answers, 1)
	assert.Empty(t, s.Additionals)
}

func TestClassify_QueryNameWithoutTrailingDot(t *testing.T) {
	rrs := []dns.RR{mustRR(t, "example.com. 300 IN A 1.2.3.4")}

	s := Classify("example.com", rrs, time.Unix(0, 0), time.Unix(0, 0))
	assert.Len(t, s.Answers, 1)
}

func TestClassify_Empty(t *testing.T) {
	s := Classify("example.com.", nil, time.Now(), time.Now())
	assert.Empty(t, s.Answers)
	assert.Empty(t, s.NameServers)
	assert.Empty(t, s.SOA)
	assert.Empty(t, s.Additionals)
}
