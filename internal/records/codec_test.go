package records

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundTrip(t *testing.T) {
	inputs := []string{
		"example.com. 300 IN A 1.2.3.4",
		"example.com. 600 IN AAAA 2001:db8::1",
		"www.example.com. 120 IN CNAME example.com.",
		"example.com. 3600 IN MX 10 mail.example.com.",
		"example.com. 3600 IN TXT \"v=spf1 -all\"",
		"example.com. 86400 IN NS ns1.example.com.",
		"example.com. 900 IN SOA ns1.example.com. admin.example.com. 2024010101 7200 3600 1209600 300",
		"_sip._tcp.example.com. 300 IN SRV 10 60 5060 sip.example.com.",
	}

	rrs := make([]dns.RR, 0, len(inputs))
	for _, s := range inputs {
		rrs = append(rrs, mustRR(t, s))
	}

	content, err := EncodeJSON(rrs)
	require.NoError(t, err)

	decoded, err := DecodeJSON(content)
	require.NoError(t, err)
	require.Len(t, decoded, len(rrs))

	for i := range rrs {
		want, got := rrs[i], decoded[i]
		assert.Equal(t, want.Header().Name, got.Header().Name)
		assert.Equal(t, want.Header().Rrtype, got.Header().Rrtype)
		assert.Equal(t, want.Header().Class, got.Header().Class)
		assert.Equal(t, want.Header().Ttl, got.Header().Ttl)
		assert.Equal(t, want.String(), got.String(), "presentation form must survive the round trip")
	}
}

func TestCodec_EmptyBatch(t *testing.T) {
	content, err := EncodeJSON(nil)
	require.NoError(t, err)

	decoded, err := DecodeJSON(content)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestDecodeJSON_Garbage(t *testing.T) {
	_, err := DecodeJSON("not json at all")
	assert.Error(t, err)

	_, err = DecodeJSON(`[{"name":"example.com.","type":1,"class":1,"ttl":60,"rdata":"not-an-ip"}]`)
	assert.Error(t, err, "unparseable rdata must surface an error")
}
