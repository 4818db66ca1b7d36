package roster

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// SRVResolver looks up _minecraft._tcp records against a single DNS server.
type SRVResolver struct {
	client *dns.Client
	server string
}

// NewSRVResolver creates a resolver that queries server (host:port).
func NewSRVResolver(server string, timeout time.Duration) *SRVResolver {
	return &SRVResolver{
		client: &dns.Client{Timeout: timeout},
		server: server,
	}
}

// Lookup returns the target host and port advertised for host. When several
// records exist, the lowest priority wins, then the highest weight.
func (r *SRVResolver) Lookup(ctx context.Context, host string) (string, int, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn("_minecraft._tcp."+host), dns.TypeSRV)
	m.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return "", 0, fmt.Errorf("srv query %s: %w", host, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return "", 0, fmt.Errorf("srv query %s: %s", host, dns.RcodeToString[resp.Rcode])
	}

	var best *dns.SRV
	for _, rr := range resp.Answer {
		srv, ok := rr.(*dns.SRV)
		if !ok {
			continue
		}
		if best == nil ||
			srv.Priority < best.Priority ||
			(srv.Priority == best.Priority && srv.Weight > best.Weight) {
			best = srv
		}
	}
	if best == nil {
		return "", 0, fmt.Errorf("srv query %s: no records", host)
	}

	target := strings.TrimSuffix(best.Target, ".")
	if target == "" {
		return "", 0, fmt.Errorf("srv query %s: empty target", host)
	}
	return target, int(best.Port), nil
}
