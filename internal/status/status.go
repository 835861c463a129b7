// Package status holds the user-visible status regions and the rules for
// styling native prover log lines.
package status

import (
	"strings"
	"sync"
	"time"
)

// Style is the visual treatment of a status line.
type Style string

const (
	StyleInfo    Style = "info"
	StyleSuccess Style = "success"
	StyleWarning Style = "warning"
	StyleError   Style = "error"
)

// Color returns the colour the popup renders the style with.
func (s Style) Color() string {
	switch s {
	case StyleSuccess:
		return "green"
	case StyleWarning:
		return "orange"
	case StyleError:
		return "red"
	default:
		return "blue"
	}
}

// Classify styles a free-text prover status line: "successfully" is a
// success, "failed" an error, anything else a warning.
func Classify(text string) Style {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "successfully"):
		return StyleSuccess
	case strings.Contains(lower, "failed"):
		return StyleError
	default:
		return StyleWarning
	}
}

// FromOutcome maps a structured prover outcome onto a style. ok is false
// when the outcome is unknown and the caller should fall back to Classify.
func FromOutcome(outcome string) (Style, bool) {
	switch strings.ToLower(outcome) {
	case "success", "done":
		return StyleSuccess, true
	case "error", "failed":
		return StyleError, true
	case "progress", "warning":
		return StyleWarning, true
	}
	return "", false
}

// Line is one rendered status region.
type Line struct {
	Text      string    `json:"text"`
	Style     Style     `json:"style"`
	Color     string    `json:"color"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is a copy of both regions.
type Snapshot struct {
	Message Line `json:"message"`
	Log     Line `json:"log"`
}

// Board holds the message region (results and errors of a submission) and the
// log region (prover status). Each update overwrites the previous one.
type Board struct {
	mu      sync.RWMutex
	message Line
	log     Line
	now     func() time.Time
}

// NewBoard creates an empty Board.
func NewBoard() *Board {
	return &Board{now: time.Now}
}

// SetMessage overwrites the message region.
func (b *Board) SetMessage(text string, style Style) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.message = b.line(text, style)
}

// SetLog overwrites the log region.
func (b *Board) SetLog(text string, style Style) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = b.line(text, style)
}

// ClearLog empties the log region.
func (b *Board) ClearLog() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = Line{}
}

// Snapshot returns a copy of both regions.
func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Snapshot{Message: b.message, Log: b.log}
}

func (b *Board) line(text string, style Style) Line {
	return Line{Text: text, Style: style, Color: style.Color(), UpdatedAt: b.now()}
}
