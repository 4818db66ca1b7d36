package roster

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultProtocolVersion is sent in the handshake. Servers answer status
// requests regardless of the version a client claims.
const DefaultProtocolVersion = 47

// Config controls an SLPClient.
type Config struct {
	// Timeout bounds the whole fetch, SRV lookup included.
	Timeout         time.Duration
	ProtocolVersion int32
	SRVLookup       bool
	// Resolver is the DNS server (host:port) used for SRV lookups.
	Resolver string
}

// SLPClient fetches rosters with the Java edition Server List Ping.
type SLPClient struct {
	config   Config
	dialer   *net.Dialer
	resolver *SRVResolver
	logger   zerolog.Logger
}

// NewSLPClient creates a Server List Ping client.
func NewSLPClient(config Config, logger zerolog.Logger) *SLPClient {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.ProtocolVersion == 0 {
		config.ProtocolVersion = DefaultProtocolVersion
	}

	c := &SLPClient{
		config: config,
		dialer: &net.Dialer{},
		logger: logger.With().Str("component", "roster").Logger(),
	}
	if config.SRVLookup {
		c.resolver = NewSRVResolver(config.Resolver, config.Timeout)
	}
	return c
}

type statusResponse struct {
	Version struct {
		Name     string `json:"name"`
		Protocol int    `json:"protocol"`
	} `json:"version"`
	Players *struct {
		Max    int `json:"max"`
		Online int `json:"online"`
		Sample []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"sample"`
	} `json:"players"`
}

// Fetch performs one status exchange with host:port. It never panics; every
// problem is reported through Result.Err.
func (c *SLPClient) Fetch(ctx context.Context, host string, port int) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Failure(fmt.Errorf("roster fetch panicked: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if c.resolver != nil {
		target, targetPort, err := c.resolver.Lookup(ctx, host)
		if err != nil {
			c.logger.Debug().Err(err).Str("host", host).Msg("SRV lookup failed, using configured address")
		} else {
			c.logger.Debug().
				Str("host", host).
				Str("target", target).
				Int("port", targetPort).
				Msg("Resolved SRV record")
			host, port = target, targetPort
		}
	}

	if port <= 0 || port > 65535 {
		return Failure(fmt.Errorf("invalid port %d", port))
	}

	status, err := c.status(ctx, host, port)
	if err != nil {
		return Failure(err)
	}
	return Success(samplePlayers(status))
}

func (c *SLPClient) status(ctx context.Context, host string, port int) (*statusResponse, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("set deadline: %w", err)
		}
	}
	// Unblock reads and writes if the caller cancels before the deadline.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	request := handshakePacket(c.config.ProtocolVersion, host, uint16(port))
	request = append(request, statusRequestPacket()...)
	if _, err := conn.Write(request); err != nil {
		return nil, fmt.Errorf("send status request: %w", err)
	}

	id, payload, err := readPacket(bufio.NewReader(conn))
	if err != nil {
		return nil, err
	}
	if id != packetIDStatus {
		return nil, fmt.Errorf("%w: unexpected packet id 0x%02x", ErrMalformed, id)
	}

	body, err := decodeString(payload)
	if err != nil {
		return nil, err
	}

	var status statusResponse
	if err := json.Unmarshal([]byte(body), &status); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &status, nil
}

// samplePlayers extracts the online sample. Entries with no ID or the nil
// UUID are placeholder lines some servers inject into the list and are not
// players.
func samplePlayers(status *statusResponse) []Player {
	if status.Players == nil {
		return []Player{}
	}
	players := make([]Player, 0, len(status.Players.Sample))
	for _, entry := range status.Players.Sample {
		id, ok := NormalizeID(entry.ID)
		if !ok {
			continue
		}
		players = append(players, Player{ID: id, Name: entry.Name})
	}
	return players
}

// NormalizeID returns the canonical form of a player ID. UUIDs are rendered
// lower-case and hyphenated; anything else is kept verbatim.
func NormalizeID(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return raw, true
	}
	if id == uuid.Nil {
		return "", false
	}
	return id.String(), true
}
