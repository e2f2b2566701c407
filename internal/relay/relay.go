// Package relay bridges a client WebSocket to the diarize engine's
// WebSocket, forwarding binary audio frames downstream and JSON results
// back. The two legs run in lockstep: one frame in, one result out, no
// buffering of in-flight frames. Any failure on either leg tears both legs
// down; the relay never retries, the client reconnects.
package relay

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/audiogate/audiogate/internal/audit"
)

// State is the relay session lifecycle.
type State int

const (
	// Connecting covers the shared-secret check, before any resource is
	// opened.
	Connecting State = iota
	// Accepted means the client leg is established.
	Accepted
	// Relaying means both legs are established and frames are flowing.
	Relaying
	// Closed is terminal: both legs released.
	Closed
)

// Close reasons surfaced to the client leg.
const (
	ReasonAuthFailed        = "invalid_api_key"
	ReasonEngineUnavailable = "engine_unavailable"
	ReasonEngineClosed      = "engine_closed"
)

// Relay handles the /ws/diarize endpoint. Callers authenticate with a
// shared secret passed as the api_key query parameter: connection-oriented
// clients cannot reliably set arbitrary headers, so this endpoint uses a
// different trust boundary than the header scheme used elsewhere.
type Relay struct {
	secret    string
	engineURL string
	audit     *audit.Pipeline
	logger    *slog.Logger

	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
}

// New creates a Relay that bridges to engineURL (a ws:// address that must
// already carry the engine-side credential).
func New(secret, engineURL string, pipeline *audit.Pipeline, logger *slog.Logger) *Relay {
	return &Relay{
		secret:    secret,
		engineURL: engineURL,
		audit:     pipeline,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			// The shared secret is the trust boundary for this endpoint,
			// not the browser origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// ServeHTTP runs one relay session: Connecting -> Accepted -> Relaying ->
// Closed. Both legs are released on every exit path.
func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rl.audit.Log(ctx, audit.CategoryAPI, map[string]any{
		"event":            "websocket_connection_attempt",
		"remote_addr":      r.RemoteAddr,
		"api_key_provided": r.URL.Query().Get("api_key") != "",
	})

	// Connecting: a secret mismatch closes the session before any resource
	// is opened.
	if r.URL.Query().Get("api_key") != rl.secret {
		rl.audit.Log(ctx, audit.CategoryAPI, map[string]any{
			"event":       "websocket_auth_failed",
			"remote_addr": r.RemoteAddr,
			"reason":      ReasonAuthFailed,
		})
		http.Error(w, ReasonAuthFailed, http.StatusForbidden)
		return
	}

	client, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rl.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	defer client.Close()

	rl.audit.Log(ctx, audit.CategoryAPI, map[string]any{
		"event":       "websocket_connected",
		"remote_addr": r.RemoteAddr,
	})

	// Accepted: open the engine leg before relaying so no client frame is
	// ever read without somewhere to forward it.
	engine, _, err := rl.dialer.DialContext(ctx, rl.engineURL, nil)
	if err != nil {
		rl.audit.Log(ctx, audit.CategoryAPI, map[string]any{
			"event":       "websocket_engine_dial_failed",
			"remote_addr": r.RemoteAddr,
			"error":       err.Error(),
		})
		rl.closeWith(client, websocket.CloseInternalServerErr, ReasonEngineUnavailable)
		return
	}
	defer engine.Close()

	rl.audit.Log(ctx, audit.CategoryAPI, map[string]any{
		"event":      "engine_websocket_connected",
		"engine_url": rl.engineURL,
	})

	rl.relay(ctx, r.RemoteAddr, client, engine)
}

// relay is the Relaying state: strict one-in-one-out alternation until
// either side fails or disconnects.
func (rl *Relay) relay(ctx context.Context, remoteAddr string, client, engine *websocket.Conn) {
	defer rl.audit.Log(ctx, audit.CategoryAPI, map[string]any{
		"event":       "websocket_closed",
		"remote_addr": remoteAddr,
	})

	for {
		_, frame, err := client.ReadMessage()
		if err != nil {
			rl.audit.Log(ctx, audit.CategoryAPI, map[string]any{
				"event":       "websocket_disconnected",
				"remote_addr": remoteAddr,
				"reason":      "client_disconnected",
			})
			return
		}

		rl.audit.Log(ctx, audit.CategoryAPI, map[string]any{
			"event":     "audio_data_received",
			"data_size": len(frame),
		})

		if err := engine.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			rl.closeWith(client, websocket.CloseInternalServerErr, ReasonEngineClosed)
			return
		}

		_, result, err := engine.ReadMessage()
		if err != nil {
			rl.closeWith(client, websocket.CloseInternalServerErr, ReasonEngineClosed)
			return
		}

		if err := client.WriteMessage(websocket.TextMessage, result); err != nil {
			return
		}

		rl.audit.Log(ctx, audit.CategoryAPI, map[string]any{
			"event":       "result_forwarded_to_client",
			"result_size": len(result),
		})
	}
}

// closeWith sends a close frame carrying a distinguishable reason, so the
// client sees why the session ended instead of hanging.
func (rl *Relay) closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
}
