package webserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/agusx1211/ccplane/internal/childagent"
	"github.com/agusx1211/ccplane/internal/debug"
	"github.com/agusx1211/ccplane/internal/recording"
	"github.com/agusx1211/ccplane/internal/store"
	"github.com/agusx1211/ccplane/internal/stream"
	"github.com/agusx1211/ccplane/internal/terminal"
)

const maxBodyBytes = 32 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		debug.LogKV("webserver", "failed to encode json response", "status", status, "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeManagerError maps terminal manager errors onto HTTP statuses.
func writeManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, terminal.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, terminal.ErrNotRunning), errors.Is(err, terminal.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeBody reads an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type terminalResponse struct {
	store.Terminal
	Live bool `json:"live"`
}

func (srv *Server) terminalView(t store.Terminal) terminalResponse {
	return terminalResponse{Terminal: t, Live: srv.terminals.Live(t.ID)}
}

func (srv *Server) writeTerminal(w http.ResponseWriter, status int, id string) {
	t, err := srv.terminals.Get(id)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, status, srv.terminalView(t))
}

func (srv *Server) handleListTerminals(w http.ResponseWriter, r *http.Request) {
	list := srv.terminals.List()
	out := make([]terminalResponse, 0, len(list))
	for _, t := range list {
		out = append(out, srv.terminalView(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (srv *Server) handleGetTerminal(w http.ResponseWriter, r *http.Request) {
	srv.writeTerminal(w, http.StatusOK, r.PathValue("id"))
}

type spawnRequest struct {
	ProjectID string `json:"projectId"`
}

func (srv *Server) handleSpawnTerminal(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, err := srv.terminals.Spawn(srv.baseCtx, strings.TrimSpace(req.ProjectID))
	if err != nil {
		// A terminal that failed to launch still exists, marked dead.
		if id != "" {
			debug.LogKV("webserver", "spawn failed", "terminal_id", id, "error", err)
			srv.writeTerminal(w, http.StatusCreated, id)
			return
		}
		writeManagerError(w, err)
		return
	}
	srv.writeTerminal(w, http.StatusCreated, id)
}

type imageRequest struct {
	MediaType string `json:"mediaType"`
	Data      string `json:"data"`
}

type messageRequest struct {
	Text   string         `json:"text"`
	Images []imageRequest `json:"images,omitempty"`
}

func (m messageRequest) content() stream.Content {
	c := stream.Content{Text: m.Text}
	for _, img := range m.Images {
		c.Blocks = append(c.Blocks, stream.ImageBlock(img.MediaType, img.Data))
	}
	return c
}

func (srv *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	content := req.content()
	if err := content.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := srv.terminals.Send(r.PathValue("id"), content); err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": true})
}

func (srv *Server) handleCloseTerminal(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := srv.terminals.Close(id); err != nil {
		writeManagerError(w, err)
		return
	}
	srv.writeTerminal(w, http.StatusOK, id)
}

func (srv *Server) handleResumeTerminal(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := srv.terminals.Resume(srv.baseCtx, id); err != nil {
		if errors.Is(err, terminal.ErrNotFound) || errors.Is(err, terminal.ErrAlreadyRunning) {
			writeManagerError(w, err)
			return
		}
		debug.LogKV("webserver", "resume failed", "terminal_id", id, "error", err)
	}
	srv.writeTerminal(w, http.StatusOK, id)
}

func (srv *Server) handleKillTerminal(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := srv.terminals.Kill(id); err != nil {
		writeManagerError(w, err)
		return
	}
	if srv.transcripts != nil {
		if err := srv.transcripts.Remove(id); err != nil {
			debug.LogKV("webserver", "removing transcript failed", "terminal_id", id, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (srv *Server) handleTerminalHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := srv.terminals.Get(id); err != nil {
		writeManagerError(w, err)
		return
	}
	if srv.transcripts == nil {
		writeJSON(w, http.StatusOK, []recording.Entry{})
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := srv.transcripts.Read(id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (srv *Server) handleListChildAgents(w http.ResponseWriter, r *http.Request) {
	if srv.childAgents == nil {
		writeJSON(w, http.StatusOK, []childagent.Child{})
		return
	}
	children := srv.childAgents.Children()
	if parent := r.URL.Query().Get("parentSessionId"); parent != "" {
		filtered := children[:0]
		for _, c := range children {
			if c.ParentSessionID == parent {
				filtered = append(filtered, c)
			}
		}
		children = filtered
	}
	writeJSON(w, http.StatusOK, children)
}
