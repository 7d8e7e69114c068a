// Package reporting streams progression snapshots to a remote endpoint
// over WebSocket, so an operator can watch a long update from elsewhere
// and cancel it remotely.
package reporting

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/breeze-rmm/updatekit/internal/logging"
	"github.com/breeze-rmm/updatekit/internal/progress"
)

var log = logging.L("reporting")

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFactor   = 0.3
)

// Config holds reporter configuration.
type Config struct {
	// ServerURL is the ws:// or wss:// endpoint receiving events. http(s)
	// URLs are rewritten to their WebSocket scheme.
	ServerURL string
	// Workspace tags every event with the workspace being operated on.
	Workspace string
}

// Event is one progress message on the wire.
type Event struct {
	Type      string `json:"type"`
	Workspace string `json:"workspace"`
	Error     string `json:"error,omitempty"`

	Packages           CounterRange `json:"packages"`
	DownloadedFiles    CounterRange `json:"downloadedFiles"`
	DownloadedBytes    CounterRange `json:"downloadedBytes"`
	AppliedFiles       CounterRange `json:"appliedFiles"`
	AppliedInputBytes  CounterRange `json:"appliedInputBytes"`
	AppliedOutputBytes CounterRange `json:"appliedOutputBytes"`
	FailedFiles        uint64       `json:"failedFiles"`

	DownloadedBytesPerSec    float64 `json:"downloadedBytesPerSec"`
	AppliedOutputBytesPerSec float64 `json:"appliedOutputBytesPerSec"`
}

// CounterRange mirrors a progression counter pair.
type CounterRange struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Reporter maintains the connection and a bounded event queue. Events are
// dropped rather than ever blocking the update pipeline.
type Reporter struct {
	config    Config
	conn      *websocket.Conn
	connMu    sync.RWMutex
	done      chan struct{}
	sendChan  chan []byte
	stopOnce  sync.Once
	cancelled atomic.Bool
}

// New creates a reporter. Call Start to begin connecting.
func New(cfg Config) *Reporter {
	return &Reporter{
		config:   cfg,
		done:     make(chan struct{}),
		sendChan: make(chan []byte, 256),
	}
}

// Start runs the connect/reconnect loop in the background.
func (r *Reporter) Start() {
	go r.reconnectLoop()
}

// Stop gracefully closes the connection.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)

		r.connMu.Lock()
		if r.conn != nil {
			r.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			r.conn.Close()
			r.conn = nil
		}
		r.connMu.Unlock()

		log.Info("reporter stopped")
	})
}

// Sink wraps inner so that every snapshot is also streamed to the server.
// A remote cancel request, like a local one, makes the sink return false.
func (r *Reporter) Sink(inner progress.Sink) progress.Sink {
	return progress.SinkFunc(func(err error, p progress.GlobalProgression) bool {
		r.publish("progress", err, p)
		cont := true
		if inner != nil {
			cont = inner.Progress(err, p)
		}
		return cont && !r.cancelled.Load()
	})
}

// Finish sends a terminal event for the operation's definitive outcome.
func (r *Reporter) Finish(err error, p progress.GlobalProgression) {
	kind := "done"
	if err != nil {
		kind = "failed"
	}
	r.publish(kind, err, p)
}

func (r *Reporter) publish(kind string, cause error, p progress.GlobalProgression) {
	ev := Event{
		Type:      kind,
		Workspace: r.config.Workspace,

		Packages:           rangeOf(p.Packages),
		DownloadedFiles:    rangeOf(p.DownloadedFiles),
		DownloadedBytes:    rangeOf(p.DownloadedBytes),
		AppliedFiles:       rangeOf(p.AppliedFiles),
		AppliedInputBytes:  rangeOf(p.AppliedInputBytes),
		AppliedOutputBytes: rangeOf(p.AppliedOutputBytes),
		FailedFiles:        p.FailedFiles,

		DownloadedBytesPerSec:    p.DownloadedBytesPerSec,
		AppliedOutputBytesPerSec: p.AppliedOutputBytesPerSec,
	}
	if cause != nil {
		ev.Error = cause.Error()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		log.Warn("failed to marshal event", "error", err)
		return
	}

	select {
	case r.sendChan <- data:
	case <-r.done:
	default:
		// Queue full; the update matters more than the telemetry.
	}
}

func rangeOf(r progress.Range) CounterRange {
	return CounterRange{Start: r.Start, End: r.End}
}

func (r *Reporter) connect() error {
	wsURL, err := r.buildWSURL()
	if err != nil {
		return fmt.Errorf("failed to build WebSocket URL: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	r.connMu.Lock()
	r.conn = conn
	r.connMu.Unlock()

	conn.SetReadLimit(maxMessageSize)
	log.Info("connected", "server", r.config.ServerURL)
	return nil
}

func (r *Reporter) buildWSURL() (string, error) {
	serverURL, err := url.Parse(r.config.ServerURL)
	if err != nil {
		return "", err
	}

	switch serverURL.Scheme {
	case "https":
		serverURL.Scheme = "wss"
	case "http":
		serverURL.Scheme = "ws"
	}

	return serverURL.String(), nil
}

func (r *Reporter) reconnectLoop() {
	backoff := initialBackoff

	for {
		select {
		case <-r.done:
			return
		default:
		}

		if err := r.connect(); err != nil {
			log.Warn("connection failed", "error", err)

			jitter := time.Duration(float64(backoff) * jitterFactor * (rand.Float64()*2 - 1))
			sleep := backoff + jitter
			if sleep < 0 {
				sleep = backoff
			}

			log.Info("retrying", "delay", sleep)
			select {
			case <-r.done:
				return
			case <-time.After(sleep):
			}

			backoff = time.Duration(float64(backoff) * backoffFactor)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		// Reset backoff on successful connection
		backoff = initialBackoff

		done := make(chan struct{})
		go r.writePump(done)
		r.readPump()
		close(done)

		select {
		case <-r.done:
			return
		default:
		}
	}
}

// readPump watches for server messages. The only one acted on is a cancel
// request, which flips the sink to stop the running operation.
func (r *Reporter) readPump() {
	r.connMu.RLock()
	conn := r.conn
	r.connMu.RUnlock()

	if conn == nil {
		return
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("read error", "error", err)
			}
			return
		}

		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Warn("failed to parse message", "error", err)
			continue
		}
		if msg.Type == "cancel" {
			log.Info("remote cancellation requested")
			r.cancelled.Store(true)
		}
	}
}

func (r *Reporter) writePump(done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.done:
			return

		case message := <-r.sendChan:
			r.connMu.RLock()
			conn := r.conn
			r.connMu.RUnlock()

			if conn == nil {
				continue
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn("write error", "error", err)
				return
			}

		case <-ticker.C:
			r.connMu.RLock()
			conn := r.conn
			r.connMu.RUnlock()

			if conn == nil {
				continue
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
