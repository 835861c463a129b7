package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"notary-relay/internal/controller"
	"notary-relay/internal/events"
	"notary-relay/internal/model"
	"notary-relay/internal/status"
)

// Submitter runs proof submissions for the popup.
type Submitter interface {
	Submit(ctx context.Context, in controller.SubmitInput) controller.Result
	CurlCommand(in controller.SubmitInput) (string, error)
	ProverCommand(in controller.SubmitInput) (string, error)
	Board() *status.Board
}

// Forwarder hands a proof request to the native host.
type Forwarder interface {
	Forward(ctx context.Context, req model.ProofRequest) model.Ack
}

// nativeEnvelope is the popup-to-relay message.
type nativeEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NotaryHandler serves the popup-facing API.
type NotaryHandler struct {
	submitter Submitter
	forwarder Forwarder
	logger    *slog.Logger
}

// NewNotaryHandler creates a NotaryHandler.
func NewNotaryHandler(s Submitter, f Forwarder, logger *slog.Logger) *NotaryHandler {
	return &NotaryHandler{
		submitter: s,
		forwarder: f,
		logger:    logger.With("component", "notary_handler"),
	}
}

// Submit runs one submission for the posted tab, cookies and environment.
// Failures are reported in the status snapshot, so the response is always 200.
func (h *NotaryHandler) Submit(c echo.Context) error {
	var in controller.SubmitInput
	if err := json.NewDecoder(c.Request().Body).Decode(&in); err != nil {
		return badRequest(c, "invalid submission body")
	}
	return c.JSON(http.StatusOK, h.submitter.Submit(c.Request().Context(), in))
}

// Status returns the current message and log regions.
func (h *NotaryHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.submitter.Board().Snapshot())
}

// Native accepts a nativeMessage envelope and replies with the relay's ack.
func (h *NotaryHandler) Native(c echo.Context) error {
	var env nativeEnvelope
	if err := json.NewDecoder(c.Request().Body).Decode(&env); err != nil {
		return badRequest(c, "invalid message body")
	}
	if env.Type != events.TypeNativeMessage {
		return badRequest(c, "unsupported message type")
	}

	var req model.ProofRequest
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &req); err != nil {
			h.logger.Debug("undecodable proof request", "err", err)
		}
	}

	ack := h.forwarder.Forward(c.Request().Context(), req)
	return c.JSON(http.StatusOK, ack)
}

// Curl renders the curl replay command for the posted session.
func (h *NotaryHandler) Curl(c echo.Context) error {
	return h.command(c, h.submitter.CurlCommand)
}

// ProverCommand renders the local prover invocation for the posted session.
func (h *NotaryHandler) ProverCommand(c echo.Context) error {
	return h.command(c, h.submitter.ProverCommand)
}

func (h *NotaryHandler) command(c echo.Context, render func(controller.SubmitInput) (string, error)) error {
	var in controller.SubmitInput
	if err := json.NewDecoder(c.Request().Body).Decode(&in); err != nil {
		return badRequest(c, "invalid submission body")
	}

	cmd, err := render(in)
	if err != nil {
		if errors.Is(err, controller.ErrNoTransactionID) {
			return c.JSON(http.StatusUnprocessableEntity, map[string]string{
				"error": controller.MsgNoTransactionID,
			})
		}
		h.logger.Error("render command", "err", err, "path", c.Request().URL.Path)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to render command",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"command": cmd})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}
