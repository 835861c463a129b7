// Package controller turns a browser session into a proof request: it
// resolves the transaction, replays the session against the bank, shows the
// result and hands the request to the relay. It also renders the prover's
// status updates.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"notary-relay/internal/client"
	"notary-relay/internal/config"
	"notary-relay/internal/events"
	"notary-relay/internal/headers"
	"notary-relay/internal/metrics"
	"notary-relay/internal/model"
	"notary-relay/internal/status"
)

// User-visible messages.
const (
	MsgNoTransactionID = "No transaction ID available."
	MsgHTTPError       = "Failed to fetch transaction: the bank returned an HTTP error."
	MsgNoData          = "No transaction data found."
	MsgSendFailed      = "Failed to send to native app."
	MsgDispatchError   = "Error sending to native app"
	MsgInFlight        = "A proof for this transaction is already in progress."
)

// ErrNoTransactionID is returned when the tab URL does not identify a transaction.
var ErrNoTransactionID = errors.New("controller: no transaction ID available")

// Fetcher loads transactions from the bank.
type Fetcher interface {
	FetchTransactions(ctx context.Context, url string, header http.Header) ([]model.Transaction, error)
}

// Dispatcher hands a proof request to the relay.
type Dispatcher interface {
	Forward(ctx context.Context, req model.ProofRequest) model.Ack
}

// Subscriber is the subscribe half of the event bus.
type Subscriber interface {
	Subscribe(h events.Handler) (unsubscribe func())
}

// SubmitInput is what the popup knows about the active tab.
type SubmitInput struct {
	Tab         model.Tab         `json:"tab"`
	Cookies     []model.Cookie    `json:"cookies"`
	Environment model.Environment `json:"environment"`
}

// Result summarizes one Submit call.
type Result struct {
	TransactionID string              `json:"transaction_id,omitempty"`
	Transaction   *model.Transaction  `json:"transaction,omitempty"`
	Request       *model.ProofRequest `json:"request,omitempty"`
	Dispatched    bool                `json:"dispatched"`
	Status        status.Snapshot     `json:"status"`
}

// Controller orchestrates submissions and owns the status board.
type Controller struct {
	bank       config.BankConfig
	prover     config.ProverConfig
	fetcher    Fetcher
	dispatcher Dispatcher
	board      *status.Board
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu          sync.Mutex
	inFlight    map[string]struct{}
	unsubscribe func()
}

// New creates a Controller. The metrics parameter is optional.
func New(cfg *config.Config, f Fetcher, d Dispatcher, board *status.Board, logger *slog.Logger, m *metrics.Metrics) *Controller {
	return &Controller{
		bank:       cfg.Bank,
		prover:     cfg.Prover,
		fetcher:    f,
		dispatcher: d,
		board:      board,
		logger:     logger.With("component", "controller"),
		metrics:    m,
		inFlight:   make(map[string]struct{}),
	}
}

// Start subscribes the controller to native responses on sub.
func (c *Controller) Start(sub Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unsubscribe != nil {
		return
	}
	c.unsubscribe = sub.Subscribe(c.OnMessage)
}

// Stop releases the subscription taken by Start.
func (c *Controller) Stop() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Board returns the status board the controller renders to.
func (c *Controller) Board() *status.Board {
	return c.board
}

// Submit runs one proof submission. It never returns an error: every failure
// is rendered on the status board and reflected in the Result.
func (c *Controller) Submit(ctx context.Context, in SubmitInput) Result {
	id, ok := ResolveTransactionID(in.Tab.URL, c.bank.HostMarker)
	if !ok {
		c.fail(MsgNoTransactionID, "no_transaction_id")
		return c.result(Result{})
	}

	if !c.acquire(id) {
		c.board.SetMessage(MsgInFlight, status.StyleWarning)
		c.observe("in_flight")
		return c.result(Result{TransactionID: id})
	}
	defer c.release(id)

	logger := c.logger.With("submission", uuid.NewString(), "transaction_id", id)
	res := Result{TransactionID: id}

	bundle := headers.Build(in.Tab, in.Cookies, in.Environment, c.bank.HostMarker)
	apiURL := c.bank.TransactionURL(id)

	txs, err := c.fetcher.FetchTransactions(ctx, apiURL, bundle.HTTPHeader())
	if err != nil {
		var se *client.StatusError
		if errors.As(err, &se) {
			logger.Warn("bank returned error status", "status", se.StatusCode)
			c.fail(MsgHTTPError, "http_error")
		} else {
			logger.Error("fetch transaction", "err", err)
			c.fail(MsgSendFailed, "fetch_failed")
		}
		c.board.ClearLog()
		return c.result(res)
	}
	if len(txs) == 0 {
		c.fail(MsgNoData, "no_data")
		return c.result(res)
	}

	tx := txs[0]
	res.Transaction = &tx
	c.board.SetMessage(RenderTransaction(tx), status.StyleInfo)

	req := model.ProofRequest{
		ServerURI:       apiURL,
		VerifierAddress: c.prover.VerifierAddress,
		Headers:         bundle.Lines(),
		MaxSentData:     c.prover.MaxSentData,
		MaxRecvData:     c.prover.MaxRecvData,
	}
	res.Request = &req

	// The relay may publish prover status before Forward returns.
	c.board.ClearLog()
	ack := c.dispatcher.Forward(ctx, req)
	if ack.Failed() {
		msg := ack.Message
		if msg == "" {
			msg = MsgDispatchError
		}
		logger.Error("dispatch proof request", "ack", msg)
		c.fail(msg, "dispatch_failed")
		return c.result(res)
	}

	logger.Info("proof request dispatched", "ack", ack.Status)
	c.observe("dispatched")
	res.Dispatched = true
	return c.result(res)
}

// CurlCommand renders a curl command that replays the transaction request.
func (c *Controller) CurlCommand(in SubmitInput) (string, error) {
	return c.command(in, headers.CurlCommand)
}

// ProverCommand renders the local prover invocation for the transaction request.
func (c *Controller) ProverCommand(in SubmitInput) (string, error) {
	return c.command(in, headers.ProverCommand)
}

func (c *Controller) command(in SubmitInput, render func(string, headers.Bundle) string) (string, error) {
	id, ok := ResolveTransactionID(in.Tab.URL, c.bank.HostMarker)
	if !ok {
		return "", ErrNoTransactionID
	}
	bundle := headers.Build(in.Tab, in.Cookies, in.Environment, c.bank.HostMarker)
	return render(c.bank.TransactionURL(id), bundle), nil
}

// OnMessage handles a message from the event bus.
func (c *Controller) OnMessage(msg events.Message) {
	if msg.Type != events.TypeNativeResponse {
		return
	}
	c.OnNativeEvent(msg.Data)
}

// OnNativeEvent renders a native prover event. Only Logging events are shown.
func (c *Controller) OnNativeEvent(raw json.RawMessage) {
	var evt model.NativeEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		c.logger.Debug("ignoring undecodable native event", "err", err)
		return
	}
	if evt.Type != model.EventLogging {
		return
	}

	text := evt.Message.Logging
	style, ok := status.FromOutcome(evt.Message.Status)
	if !ok {
		style = status.Classify(text)
	}
	c.board.SetLog("Status: "+text, style)
	c.logger.Info("native status", "logging", text, "style", style)
}

func (c *Controller) fail(msg, outcome string) {
	c.board.SetMessage(msg, status.StyleError)
	c.observe(outcome)
}

func (c *Controller) result(r Result) Result {
	r.Status = c.board.Snapshot()
	return r
}

func (c *Controller) acquire(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[id]; busy {
		return false
	}
	c.inFlight[id] = struct{}{}
	return true
}

func (c *Controller) release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, id)
}

func (c *Controller) observe(outcome string) {
	if c.metrics != nil {
		c.metrics.SubmissionsTotal.WithLabelValues(outcome).Inc()
	}
}
