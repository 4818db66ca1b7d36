package roster

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startDNSServer serves handler on a loopback UDP socket and returns its address.
func startDNSServer(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	server := &dns.Server{
		PacketConn:        pc,
		Handler:           handler,
		NotifyStartedFunc: func() { close(started) },
	}
	go func() { _ = server.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = server.Shutdown() })

	return pc.LocalAddr().String()
}

func srvAnswer(records ...*dns.SRV) dns.HandlerFunc {
	return func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		for _, rec := range records {
			rr := *rec
			rr.Hdr = dns.RR_Header{Name: r.Question[0].Name, Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: 60}
			m.Answer = append(m.Answer, &rr)
		}
		_ = w.WriteMsg(m)
	}
}

func TestSRVResolver_PicksPreferredRecord(t *testing.T) {
	asked := make(chan string, 1)
	addr := startDNSServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
		asked <- r.Question[0].Name
		srvAnswer(
			&dns.SRV{Priority: 20, Weight: 100, Port: 25570, Target: "backup.example.com."},
			&dns.SRV{Priority: 10, Weight: 5, Port: 25566, Target: "light.example.com."},
			&dns.SRV{Priority: 10, Weight: 50, Port: 25567, Target: "heavy.example.com."},
		)(w, r)
	})

	resolver := NewSRVResolver(addr, time.Second)
	host, port, err := resolver.Lookup(context.Background(), "play.example.com")
	require.NoError(t, err)
	assert.Equal(t, "_minecraft._tcp.play.example.com.", <-asked)
	assert.Equal(t, "heavy.example.com", host)
	assert.Equal(t, 25567, port)
}

func TestSRVResolver_NoRecords(t *testing.T) {
	addr := startDNSServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeNameError)
		_ = w.WriteMsg(m)
	})

	_, _, err := NewSRVResolver(addr, time.Second).Lookup(context.Background(), "play.example.com")
	assert.Error(t, err)

	empty := startDNSServer(t, srvAnswer())
	_, _, err = NewSRVResolver(empty, time.Second).Lookup(context.Background(), "play.example.com")
	assert.Error(t, err)
}

func TestFetch_FollowsSRVRecord(t *testing.T) {
	port, _ := startFakeServer(t, replyWith(statusReply(`{"players":{"sample":[{"name":"Steve","id":"abc"}]}}`)))
	addr := startDNSServer(t, srvAnswer(&dns.SRV{Priority: 0, Weight: 0, Port: uint16(port), Target: "127.0.0.1."}))

	client := NewSLPClient(Config{
		Timeout:   2 * time.Second,
		SRVLookup: true,
		Resolver:  addr,
	}, zerolog.Nop())

	// The configured port is wrong; only the SRV record leads to the server.
	result := client.Fetch(context.Background(), "play.example.com", 1)
	require.NoError(t, result.Err)
	assert.Equal(t, []Player{{ID: "abc", Name: "Steve"}}, result.Roster())
}

func TestFetch_FallsBackWhenSRVFails(t *testing.T) {
	port, _ := startFakeServer(t, replyWith(statusReply(`{"players":{"sample":[{"name":"Alex","id":"def"}]}}`)))
	addr := startDNSServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeServerFailure)
		_ = w.WriteMsg(m)
	})

	client := NewSLPClient(Config{
		Timeout:   2 * time.Second,
		SRVLookup: true,
		Resolver:  addr,
	}, zerolog.Nop())

	result := client.Fetch(context.Background(), "127.0.0.1", port)
	require.NoError(t, result.Err)
	assert.Equal(t, []Player{{ID: "def", Name: "Alex"}}, result.Roster())
}
