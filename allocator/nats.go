package allocator

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/arenastack/matchcore/types"
)

const natsClientName = "matchcore-allocator"

// allocationResponse is the reply fleet managers send on the allocation
// subject. A non-empty Error means the fleet refused the request.
type allocationResponse struct {
	Connection string           `json:"connection"`
	Extensions types.Extensions `json:"extensions,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// NATSAllocator requests servers from a fleet manager over NATS
// request-reply. Each Allocate publishes one Request on the configured
// subject and waits for a reply within the caller's context deadline.
type NATSAllocator struct {
	conn    *nats.Conn
	subject string
	log     zerolog.Logger
}

var _ Allocator = (*NATSAllocator)(nil)

// NewNATSAllocator connects to the NATS server at url and allocates via the
// given subject.
func NewNATSAllocator(url, subject string, logger zerolog.Logger) (*NATSAllocator, error) {
	if url == "" {
		return nil, eris.New("NATS URL is required")
	}
	if subject == "" {
		return nil, eris.New("NATS allocation subject is required")
	}

	a := &NATSAllocator{
		subject: subject,
		log:     logger,
	}

	natsOpts := []nats.Option{
		nats.Name(natsClientName),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second * 5),
		nats.DisconnectErrHandler(a.handleDisconnect),
		nats.ReconnectHandler(a.handleReconnect),
		nats.ClosedHandler(a.handleClosed),
	}

	conn, err := nats.Connect(url, natsOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "failed to connect to NATS server")
	}
	a.conn = conn

	a.log.Info().
		Str("url", conn.ConnectedUrl()).
		Str("subject", subject).
		Msg("Connected to NATS fleet manager")

	return a, nil
}

// Allocate sends the request and decodes the fleet manager's reply.
// The timeout should be set in ctx.
func (a *NATSAllocator) Allocate(ctx context.Context, req Request) (*types.Assignment, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "failed to marshal allocation request")
	}

	msg, err := a.conn.RequestWithContext(ctx, a.subject, payload)
	if err != nil {
		return nil, eris.Wrap(err, "failed to request allocation")
	}

	return decodeAllocation(msg.Data)
}

// Close drains the connection. Pending Allocate calls fail once closed.
func (a *NATSAllocator) Close() {
	if a.conn != nil {
		a.conn.Close()
	}
}

func decodeAllocation(data []byte) (*types.Assignment, error) {
	var res allocationResponse
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, eris.Wrap(err, "failed to unmarshal allocation response")
	}
	if res.Error != "" {
		return nil, eris.Errorf("fleet refused allocation: %s", res.Error)
	}
	if res.Connection == "" {
		return nil, eris.New("fleet returned an empty connection")
	}
	return &types.Assignment{
		Connection: res.Connection,
		Extensions: res.Extensions,
	}, nil
}

func (a *NATSAllocator) handleDisconnect(nc *nats.Conn, err error) {
	log := a.log.With().
		Str("nats_url", nc.ConnectedUrl()).
		Uint64("reconnect_attempts", nc.Reconnects).
		Logger()

	if err != nil {
		log.Error().Err(err).Msg("Disconnected from NATS with error")
	} else {
		log.Warn().Msg("Disconnected from NATS (no error)")
	}
}

func (a *NATSAllocator) handleReconnect(nc *nats.Conn) {
	a.log.Info().
		Str("nats_url", nc.ConnectedUrl()).
		Uint64("reconnect_attempts", nc.Reconnects).
		Msg("Reconnected to NATS")
}

func (a *NATSAllocator) handleClosed(nc *nats.Conn) {
	log := a.log.With().
		Uint64("reconnect_attempts", nc.Reconnects).
		Logger()

	if err := nc.LastError(); err != nil {
		log.Warn().Err(err).Msg("NATS connection closed with error")
	} else {
		log.Info().Msg("NATS connection closed")
	}
}
