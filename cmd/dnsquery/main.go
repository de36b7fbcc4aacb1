// Command dnsquery is a small debugging client: it sends one DNS query and
// prints the reply, which is handy for poking a running forwarder without
// reaching for dig.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/miekg/dns"
)

func main() {
	var (
		server  = flag.String("server", "127.0.0.1:53", "DNS server HOST:PORT")
		name    = flag.String("name", "example.com", "Query name")
		qtype   = flag.String("qtype", "A", "Query type (A, AAAA, MX, ...)")
		useTCP  = flag.Bool("tcp", false, "Query over TCP instead of UDP")
		timeout = flag.Duration("timeout", 2*time.Second, "Timeout")
		quiet   = flag.Bool("quiet", false, "Suppress output (exit status indicates success)")
	)
	flag.Parse()

	t, ok := dns.StringToType[strings.ToUpper(*qtype)]
	if !ok {
		fmt.Fprintf(os.Stderr, "dnsquery error: unknown query type %q\n", *qtype)
		os.Exit(1)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(*name), t)
	msg.RecursionDesired = true

	network := "udp"
	if *useTCP {
		network = "tcp"
	}
	client := &dns.Client{Net: network, Timeout: *timeout}

	resp, rtt, err := client.Exchange(msg, *server)
	if err != nil {
		if !*quiet {
			fmt.Fprintf(os.Stderr, "dnsquery error: %v\n", err)
		}
		os.Exit(1)
	}
	if *quiet {
		return
	}

	fmt.Printf("id=%d rcode=%s rtt=%s answers=%d authorities=%d additionals=%d\n",
		resp.Id, dns.RcodeToString[resp.Rcode], rtt,
		len(resp.Answer), len(resp.Ns), len(resp.Extra),
	)
	for _, rr := range resp.Answer {
		fmt.Println(rr.String())
	}
	for _, rr := range resp.Ns {
		fmt.Println(rr.String())
	}
}
