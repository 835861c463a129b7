package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"notary-relay/internal/controller"
	"notary-relay/internal/model"
	"notary-relay/internal/status"
)

type fakeSubmitter struct {
	board  *status.Board
	got    controller.SubmitInput
	result controller.Result
	curl   string
	err    error
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{board: status.NewBoard()}
}

func (f *fakeSubmitter) Submit(_ context.Context, in controller.SubmitInput) controller.Result {
	f.got = in
	return f.result
}

func (f *fakeSubmitter) CurlCommand(in controller.SubmitInput) (string, error) {
	f.got = in
	return f.curl, f.err
}

func (f *fakeSubmitter) ProverCommand(in controller.SubmitInput) (string, error) {
	f.got = in
	return "cargo run -r -p prover -- " + f.curl, f.err
}

func (f *fakeSubmitter) Board() *status.Board { return f.board }

type fakeForwarder struct {
	got   *model.ProofRequest
	ack   model.Ack
	calls int
}

func (f *fakeForwarder) Forward(_ context.Context, req model.ProofRequest) model.Ack {
	f.calls++
	f.got = &req
	if req.ServerURI == "" || req.Headers == nil {
		return model.Ack{Status: model.AckError, Message: "Invalid data format"}
	}
	return f.ack
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serve(t *testing.T, fn echo.HandlerFunc, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := fn(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	return rec
}

const sessionBody = `{
	"tab": {"url": "https://app.revolut.com/transactions/t1"},
	"cookies": [{"name": "revo_device_id", "value": "dev-1"}],
	"environment": {"user_agent": "Mozilla/5.0", "language": "en-US", "timezone": "UTC"}
}`

func TestNotaryHandler_Submit(t *testing.T) {
	sub := newFakeSubmitter()
	sub.result = controller.Result{TransactionID: "t1", Dispatched: true}
	h := NewNotaryHandler(sub, &fakeForwarder{}, testLogger())

	rec := serve(t, h.Submit, http.MethodPost, "/api/submit", sessionBody)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if sub.got.Tab.URL != "https://app.revolut.com/transactions/t1" {
		t.Errorf("tab URL = %q", sub.got.Tab.URL)
	}
	if len(sub.got.Cookies) != 1 || sub.got.Cookies[0].Value != "dev-1" {
		t.Errorf("cookies = %+v", sub.got.Cookies)
	}
	if sub.got.Environment.TimeZone != "UTC" {
		t.Errorf("timezone = %q", sub.got.Environment.TimeZone)
	}

	var res controller.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !res.Dispatched || res.TransactionID != "t1" {
		t.Errorf("result = %+v", res)
	}
}

func TestNotaryHandler_Submit_BadBody(t *testing.T) {
	h := NewNotaryHandler(newFakeSubmitter(), &fakeForwarder{}, testLogger())
	rec := serve(t, h.Submit, http.MethodPost, "/api/submit", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestNotaryHandler_Status(t *testing.T) {
	sub := newFakeSubmitter()
	sub.board.SetMessage("No transaction data found.", status.StyleError)
	sub.board.SetLog("Status: Prover finished successfully", status.StyleSuccess)
	h := NewNotaryHandler(sub, &fakeForwarder{}, testLogger())

	rec := serve(t, h.Status, http.MethodGet, "/api/status", "")

	var snap status.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.Message.Color != "red" || snap.Log.Color != "green" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestNotaryHandler_Native(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantAck    model.Ack
		wantCalls  int
	}{
		{
			name:       "valid descriptor",
			body:       `{"type":"nativeMessage","data":{"server_uri":"https://app.revolut.com/api/retail/transaction/t1","verifier_address":"127.0.0.1:7047","headers":["accept: */*"],"max_sent_data":4096,"max_recv_data":16384}}`,
			wantStatus: http.StatusOK,
			wantAck:    model.Ack{Status: "Message sent to native app"},
			wantCalls:  1,
		},
		{
			name:       "missing headers",
			body:       `{"type":"nativeMessage","data":{"server_uri":"https://app.revolut.com/x"}}`,
			wantStatus: http.StatusOK,
			wantAck:    model.Ack{Status: model.AckError, Message: "Invalid data format"},
			wantCalls:  1,
		},
		{
			name:       "missing data",
			body:       `{"type":"nativeMessage"}`,
			wantStatus: http.StatusOK,
			wantAck:    model.Ack{Status: model.AckError, Message: "Invalid data format"},
			wantCalls:  1,
		},
		{
			name:       "wrong type",
			body:       `{"type":"nativeResponse","data":{}}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad json",
			body:       `nope`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fwd := &fakeForwarder{ack: model.Ack{Status: "Message sent to native app"}}
			h := NewNotaryHandler(newFakeSubmitter(), fwd, testLogger())

			rec := serve(t, h.Native, http.MethodPost, "/api/native", tt.body)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if fwd.calls != tt.wantCalls {
				t.Errorf("Forward calls = %d, want %d", fwd.calls, tt.wantCalls)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var ack model.Ack
			if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if ack != tt.wantAck {
				t.Errorf("ack = %+v, want %+v", ack, tt.wantAck)
			}
		})
	}
}

func TestNotaryHandler_Curl(t *testing.T) {
	sub := newFakeSubmitter()
	sub.curl = "curl -H 'accept: */*' 'https://app.revolut.com/api/retail/transaction/t1'"
	h := NewNotaryHandler(sub, &fakeForwarder{}, testLogger())

	rec := serve(t, h.Curl, http.MethodPost, "/api/curl", sessionBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["command"] != sub.curl {
		t.Errorf("command = %q, want %q", body["command"], sub.curl)
	}
}

func TestNotaryHandler_Curl_NoTransactionID(t *testing.T) {
	sub := newFakeSubmitter()
	sub.err = controller.ErrNoTransactionID
	h := NewNotaryHandler(sub, &fakeForwarder{}, testLogger())

	rec := serve(t, h.Curl, http.MethodPost, "/api/curl", sessionBody)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestNotaryHandler_ProverCommand(t *testing.T) {
	sub := newFakeSubmitter()
	sub.curl = "'https://app.revolut.com/api/retail/transaction/t1'"
	h := NewNotaryHandler(sub, &fakeForwarder{}, testLogger())

	rec := serve(t, h.ProverCommand, http.MethodPost, "/api/prover-command", sessionBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.HasPrefix(body["command"], "cargo run -r -p prover -- ") {
		t.Errorf("command = %q", body["command"])
	}
	if sub.got.Tab.URL != "https://app.revolut.com/transactions/t1" {
		t.Errorf("tab URL = %q", sub.got.Tab.URL)
	}
}
