package webserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/agusx1211/ccplane/internal/debug"
)

const (
	wsTypeTerminal   = "terminal"
	wsTypeChildAgent = "child_agent"

	wsWriteTimeout = 15 * time.Second
	wsBuffer       = 256
)

type wsEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// handleEventsWebSocket streams every terminal event and child-agent
// transition to the client. ?terminal= narrows terminal events to one id.
func (srv *Server) handleEventsWebSocket(w http.ResponseWriter, r *http.Request) {
	only := r.URL.Query().Get("terminal")

	// Subscribe before the handshake completes so nothing published after
	// the client sees the upgrade is missed.
	termCh, cancelTerm := srv.terminals.Subscribe(wsBuffer)
	defer cancelTerm()
	childCh, cancelChild := srv.terminals.SubscribeChildAgents(wsBuffer)
	defer cancelChild()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer ws.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(srv.baseCtx, cancel)
	defer stop()

	// The client never sends anything meaningful; CloseRead handles control
	// frames and cancels ctx when the peer goes away.
	ctx = ws.CloseRead(ctx)

	debug.LogKV("webserver", "event stream opened", "remote", r.RemoteAddr, "terminal", only)
	for {
		var msg wsEnvelope
		select {
		case <-ctx.Done():
			ws.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case ev, ok := <-termCh:
			if !ok {
				ws.Close(websocket.StatusNormalClosure, "stream ended")
				return
			}
			if only != "" && ev.TerminalID != only {
				continue
			}
			msg = wsEnvelope{Type: wsTypeTerminal, Data: ev}
		case ev, ok := <-childCh:
			if !ok {
				ws.Close(websocket.StatusNormalClosure, "stream ended")
				return
			}
			msg = wsEnvelope{Type: wsTypeChildAgent, Data: ev}
		}
		if err := writeEnvelope(ctx, ws, msg); err != nil {
			debug.LogKV("webserver", "event stream write failed", "remote", r.RemoteAddr, "error", err)
			return
		}
	}
}

func writeEnvelope(ctx context.Context, ws *websocket.Conn, msg wsEnvelope) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
