// Package gateway exposes the HTTP surface for webhook-mode platforms:
// event notifications, interactive payloads and slash commands.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/beaconworks/agentrelay/internal/platform"
	"github.com/beaconworks/agentrelay/internal/router"
)

// maxBodySize caps webhook bodies. Chat events are small; anything larger
// is hostile.
const maxBodySize = 1 << 20

// processTimeout bounds asynchronous message handling kicked off after the
// webhook has been acknowledged.
const processTimeout = 5 * time.Minute

type Server struct {
	engine   *router.Engine
	registry *platform.Registry
	srv      *http.Server
}

func New(addr string, engine *router.Engine, registry *platform.Registry) *Server {
	s := &Server{engine: engine, registry: registry}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/{platform}", s.handleWebhook)
	mux.HandleFunc("POST /interactive/{platform}", s.handleInteractive)
	mux.HandleFunc("POST /commands/{platform}", s.handleCommand)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	slog.Info("gateway listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// adapterFor resolves the registry entry for the path's platform segment.
func (s *Server) adapterFor(w http.ResponseWriter, r *http.Request) (*platform.Entry, bool) {
	name := r.PathValue("platform")
	entry, ok := s.registry.Get(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown platform"})
		return nil, false
	}
	return entry, true
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return nil, false
	}
	return body, true
}

// handleWebhook parses an event notification. Platforms enforce short
// acknowledgement deadlines, so routable messages are acknowledged first and
// processed in the background; duplicate redeliveries are absorbed by the
// dedup gate.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.adapterFor(w, r)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	if hs, ok := entry.Adapter.(platform.Handshaker); ok {
		if resp, isHandshake := hs.HandshakeResponse(body); isHandshake {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusOK)
			w.Write(resp)
			return
		}
	}

	msg, err := entry.Adapter.ParseNotification(body, r.Header)
	if err != nil {
		if errors.Is(err, platform.ErrNotSupported) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "platform does not accept webhooks"})
			return
		}
		slog.Warn("webhook rejected", "platform", entry.Adapter.Name(), "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid notification"})
		return
	}
	w.WriteHeader(http.StatusOK)
	if msg == nil {
		return
	}

	platformName := entry.Adapter.Name()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		if err := s.engine.HandleMessage(ctx, platformName, msg); err != nil {
			slog.Error("message handling failed",
				"platform", platformName,
				"channel", msg.ChannelID,
				"message_id", msg.MessageID,
				"error", err)
		}
	}()
}

func (s *Server) handleInteractive(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.adapterFor(w, r)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	sel, err := entry.Adapter.ParseInteractivePayload(body, r.Header)
	if err != nil {
		if errors.Is(err, platform.ErrNotSupported) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "platform does not accept interactive payloads"})
			return
		}
		slog.Warn("interactive payload rejected", "platform", entry.Adapter.Name(), "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	w.WriteHeader(http.StatusOK)
	if sel == nil {
		return
	}

	platformName := entry.Adapter.Name()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		if err := s.engine.HandleSelection(ctx, platformName, sel); err != nil {
			slog.Error("selection handling failed",
				"platform", platformName,
				"channel", sel.ChannelID,
				"error", err)
		}
	}()
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.adapterFor(w, r)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	cmd, err := entry.Adapter.ParseCommand(body, r.Header)
	if err != nil {
		if errors.Is(err, platform.ErrNotSupported) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "platform does not accept commands"})
			return
		}
		slog.Warn("command rejected", "platform", entry.Adapter.Name(), "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid command"})
		return
	}
	w.WriteHeader(http.StatusOK)
	if cmd == nil {
		return
	}

	platformName := entry.Adapter.Name()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		if err := s.engine.HandleCommand(ctx, platformName, cmd); err != nil {
			slog.Error("command handling failed",
				"platform", platformName,
				"channel", cmd.ChannelID,
				"error", err)
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}
