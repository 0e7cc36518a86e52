package httpapi

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/clawpen/clawpen/internal/clawpen/lifecycle"
)

// handleAgentLogStream streams log lines over a WebSocket, one text message
// per line. The stream ends when the client disconnects or the container
// goes away.
func (s *Server) handleAgentLogStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	opts := lifecycle.LogOptions{
		FromBeginning: r.URL.Query().Get("from_beginning") == "true",
		Follow:        true,
	}

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	rc, err := s.manager.StreamLogs(ctx, id, opts)
	if err != nil {
		_ = ws.Close(websocket.StatusInternalError, "log stream unavailable")
		return
	}
	defer rc.Close()

	// Consume client frames so pings are answered and disconnects cancel
	// the log stream.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ws.Write(ctx, websocket.MessageText, scanner.Bytes()); err != nil {
			return
		}
	}
	_ = ws.Close(websocket.StatusNormalClosure, "")
}

// handleAgentChat bridges a WebSocket to the agent container's stdio. Client
// text messages are written to the agent; agent output is relayed back in
// chunks.
func (s *Server) handleAgentChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	rw, err := s.manager.Attach(ctx, id)
	if err != nil {
		_ = ws.Close(websocket.StatusInternalError, "agent unavailable")
		return
	}
	defer rw.Close()

	// Client -> agent.
	go func() {
		defer cancel()
		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				return
			}
			if _, err := rw.Write(append(data, '\n')); err != nil {
				return
			}
		}
	}()

	// Agent -> client.
	buf := make([]byte, 32*1024)
	for {
		n, err := rw.Read(buf)
		if n > 0 {
			if werr := ws.Write(ctx, websocket.MessageText, buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("chat stream ended", "agent", id, "error", err)
			}
			_ = ws.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}
