// Package model defines shared types for the relay.
package model

// ProofRequest is the descriptor handed to the native prover. It is built
// fresh for every submission and never mutated after dispatch.
type ProofRequest struct {
	ServerURI       string   `json:"server_uri"`
	VerifierAddress string   `json:"verifier_address"`
	Headers         []string `json:"headers"`
	MaxSentData     int      `json:"max_sent_data"`
	MaxRecvData     int      `json:"max_recv_data"`
}

// AckError is the status value of a failed acknowledgement.
const AckError = "error"

// Ack is the relay's immediate reply to a forwarded ProofRequest.
type Ack struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Failed reports whether the acknowledgement signals an error.
func (a Ack) Failed() bool {
	return a.Status == AckError
}

// EventLogging is the only native event type that is displayed.
const EventLogging = "Logging"

// NativeEvent is a message streamed back by the native prover.
type NativeEvent struct {
	Type    string        `json:"type"`
	Message NativeLogging `json:"message"`
}

// NativeLogging carries a human-readable status line. Status is an optional
// structured outcome ("success", "error", "progress") that takes precedence
// over text matching when present.
type NativeLogging struct {
	Logging string `json:"logging"`
	Status  string `json:"status,omitempty"`
}
