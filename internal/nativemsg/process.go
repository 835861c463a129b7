package nativemsg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"notary-relay/internal/config"
)

// Channel is an open connection to a native messaging host.
type Channel interface {
	// Post writes one message to the host.
	Post(v any) error
	// Messages yields every message the host sends. It is closed when the
	// host disconnects.
	Messages() <-chan json.RawMessage
	// Done is closed once the channel is fully torn down.
	Done() <-chan struct{}
	// Err blocks until Done and returns the disconnect reason, nil for a
	// clean exit.
	Err() error
	// Close disconnects from the host.
	Close() error
}

// Connector opens channels to hosts by name.
type Connector interface {
	Connect(ctx context.Context, name string) (Channel, error)
}

// ProcessConnector launches native hosts found through their manifests.
type ProcessConnector struct {
	dirs       []string
	origin     string
	maxMessage int
	logger     *slog.Logger
}

// NewProcessConnector creates a ProcessConnector from the native config.
func NewProcessConnector(cfg *config.Config, logger *slog.Logger) *ProcessConnector {
	return &ProcessConnector{
		dirs:       cfg.Native.ManifestDirs,
		origin:     cfg.Native.Origin,
		maxMessage: cfg.Native.MaxMessageBytes,
		logger:     logger.With("component", "native_connector"),
	}
}

// Connect resolves name to a host executable and starts it. The extension
// origin is passed as the first argument, as browsers do.
func (c *ProcessConnector) Connect(ctx context.Context, name string) (Channel, error) {
	m, err := FindManifest(c.dirs, name)
	if err != nil {
		return nil, err
	}
	if c.origin != "" && !m.Allows(c.origin) {
		return nil, fmt.Errorf("%w: %s does not allow %s", ErrOriginNotAllowed, name, c.origin)
	}

	var args []string
	if c.origin != "" {
		args = []string{c.origin}
	}

	c.logger.Debug("starting native host", "name", name, "path", m.Path)
	p, err := Start(ctx, m.Path, args, c.maxMessage, c.logger.With("host", name))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// waitDelay bounds how long Wait lingers on the host's output pipes after the
// host has exited, e.g. when a grandchild keeps stderr open.
var waitDelay = 5 * time.Second

// Port is a Channel backed by a child process's stdin and stdout.
type Port struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	cancel context.CancelFunc
	logger *slog.Logger

	maxMessage int
	msgs       chan json.RawMessage
	done       chan struct{}
	err        error

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

// Start runs the executable at path and begins reading its output. The
// process is killed when ctx is canceled or the Port is closed.
func Start(ctx context.Context, path string, args []string, maxMessage int, logger *slog.Logger) (*Port, error) {
	ctx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stderr = &stderrLogger{logger: logger}
	cmd.WaitDelay = waitDelay

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("nativemsg: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("nativemsg: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("nativemsg: start %s: %w", path, err)
	}

	p := &Port{
		cmd:        cmd,
		stdin:      stdin,
		cancel:     cancel,
		logger:     logger,
		maxMessage: maxMessage,
		msgs:       make(chan json.RawMessage, 16),
		done:       make(chan struct{}),
	}
	go p.readLoop(ctx, stdout)
	return p, nil
}

func (p *Port) readLoop(ctx context.Context, stdout io.Reader) {
	defer close(p.done)

	var reason error
loop:
	for {
		msg, err := ReadMessage(stdout, p.maxMessage)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				reason = fmt.Errorf("read native message: %w", err)
			}
			break
		}
		select {
		case p.msgs <- msg:
		case <-ctx.Done():
			break loop
		}
	}
	close(p.msgs)

	if reason != nil {
		// Stop a host that is still writing a stream we can no longer parse.
		p.cancel()
	}
	if err := p.cmd.Wait(); err != nil && reason == nil {
		reason = fmt.Errorf("native host exited: %w", err)
	}
	p.cancel()

	if p.closed.Load() {
		reason = nil
	}
	p.err = reason
}

// Post writes v as one frame to the host's stdin.
func (p *Port) Post(v any) error {
	if p.closed.Load() {
		return errors.New("nativemsg: post on closed port")
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return WriteMessage(p.stdin, v)
}

func (p *Port) Messages() <-chan json.RawMessage { return p.msgs }

func (p *Port) Done() <-chan struct{} { return p.done }

func (p *Port) Err() error {
	<-p.done
	return p.err
}

// Close closes the host's stdin and kills it.
func (p *Port) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		_ = p.stdin.Close()
		p.cancel()
	})
	return nil
}

// stderrLogger forwards the host's stderr to the logger line by line.
type stderrLogger struct {
	logger *slog.Logger
}

func (w *stderrLogger) Write(b []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(b), "\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			w.logger.Debug("native host stderr", "line", line)
		}
	}
	return len(b), nil
}
