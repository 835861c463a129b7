// Package relay forwards proof requests to the native prover and streams its
// replies back onto the event bus.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"notary-relay/internal/config"
	"notary-relay/internal/events"
	"notary-relay/internal/metrics"
	"notary-relay/internal/model"
	"notary-relay/internal/nativemsg"
)

// ErrInvalidDescriptor is returned when a proof request lacks a target or headers.
var ErrInvalidDescriptor = errors.New("relay: invalid data format")

// Acknowledgement messages returned to the caller.
const (
	AckSent          = "Message sent to native app"
	AckInvalid       = "Invalid data format"
	AckConnectFailed = "Failed to connect to native app"
	AckPostFailed    = "Failed to send message to native app"
	AckShuttingDown  = "Relay is shutting down"
)

// Publisher is the subset of the event bus the relay writes to.
type Publisher interface {
	Publish(events.Message) error
}

// Relay owns the native channels. Each Forward opens exactly one channel; it
// is never retried or reused.
type Relay struct {
	connector nativemsg.Connector
	hostName  string
	bus       Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a Relay. The metrics parameter is optional.
func New(cfg *config.Config, connector nativemsg.Connector, bus Publisher, logger *slog.Logger, m *metrics.Metrics) *Relay {
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		connector: connector,
		hostName:  cfg.Native.HostName,
		bus:       bus,
		logger:    logger.With("component", "relay"),
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Validate checks that a descriptor names a target and carries a header bundle.
func Validate(req model.ProofRequest) error {
	if req.ServerURI == "" || req.Headers == nil {
		return ErrInvalidDescriptor
	}
	return nil
}

// Forward validates req, opens a channel to the native host and writes req to
// it. Replies from the host are published until the host disconnects. The
// returned Ack only reports whether the request was handed over.
//
// ctx bounds connecting and writing only; the channel itself lives until the
// host disconnects or the relay is closed.
func (r *Relay) Forward(ctx context.Context, req model.ProofRequest) model.Ack {
	if err := Validate(req); err != nil {
		r.logger.Error("invalid proof request", "err", err)
		r.observe("invalid")
		return model.Ack{Status: model.AckError, Message: AckInvalid}
	}
	if err := r.ctx.Err(); err != nil {
		r.observe("shutdown")
		return model.Ack{Status: model.AckError, Message: AckShuttingDown}
	}
	if err := ctx.Err(); err != nil {
		r.observe("canceled")
		return model.Ack{Status: model.AckError, Message: AckConnectFailed}
	}

	session := uuid.NewString()
	logger := r.logger.With("session", session, "host", r.hostName)

	ch, err := r.connector.Connect(r.ctx, r.hostName)
	if err != nil {
		logger.Error("native messaging error", "err", err)
		r.observe("connect_failed")
		return model.Ack{Status: model.AckError, Message: AckConnectFailed}
	}

	if err := ch.Post(req); err != nil {
		logger.Error("post to native host", "err", err)
		_ = ch.Close()
		r.observe("post_failed")
		return model.Ack{Status: model.AckError, Message: AckPostFailed}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = ch.Close()
		r.observe("shutdown")
		return model.Ack{Status: model.AckError, Message: AckShuttingDown}
	}
	r.wg.Add(1)
	r.mu.Unlock()

	logger.Info("proof request forwarded", "server_uri", req.ServerURI, "headers", len(req.Headers))
	r.observe("sent")

	go r.pump(ch, logger)

	return model.Ack{Status: AckSent}
}

// pump re-broadcasts every native message until the channel closes.
func (r *Relay) pump(ch nativemsg.Channel, logger *slog.Logger) {
	defer r.wg.Done()
	defer func() { _ = ch.Close() }()

	if r.metrics != nil {
		r.metrics.NativeSessionsActive.Inc()
		defer r.metrics.NativeSessionsActive.Dec()
	}

	stop := context.AfterFunc(r.ctx, func() { _ = ch.Close() })
	defer stop()

	for raw := range ch.Messages() {
		r.broadcast(raw, logger)
	}

	if err := ch.Err(); err != nil {
		logger.Error("native messaging error", "err", err)
	}
	logger.Info("disconnected from native app")
}

func (r *Relay) broadcast(raw json.RawMessage, logger *slog.Logger) {
	if r.metrics != nil {
		r.metrics.NativeMessagesTotal.WithLabelValues(eventType(raw)).Inc()
	}

	err := r.bus.Publish(events.Message{Type: events.TypeNativeResponse, Data: raw})
	switch {
	case err == nil:
	case errors.Is(err, events.ErrNoReceiver):
		// Nobody is watching the status region; the event is dropped.
	default:
		logger.Error("error sending native response", "err", err)
	}
}

// Close disconnects every open channel and waits for their pumps to finish.
func (r *Relay) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	return nil
}

func (r *Relay) observe(result string) {
	if r.metrics != nil {
		r.metrics.RelayForwardsTotal.WithLabelValues(result).Inc()
	}
}

// knownEventTypes bounds the native message type label.
var knownEventTypes = map[string]bool{model.EventLogging: true}

func eventType(raw json.RawMessage) string {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || !knownEventTypes[probe.Type] {
		return "other"
	}
	return probe.Type
}
