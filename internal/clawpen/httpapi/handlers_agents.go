package httpapi

import (
	"bufio"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clawpen/clawpen/internal/clawpen/lifecycle"
)

type createAgentRequest struct {
	Name     string           `json:"name"`
	Template string           `json:"template,omitempty"`
	Config   lifecycle.Config `json:"config"`
}

type renameAgentRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.manager.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[createAgentRequest](w, r)
	if !ok {
		return
	}
	agent, err := s.manager.Create(r.Context(), req.Name, req.Template, req.Config)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.manager.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	patch, ok := readJSON[lifecycle.Config](w, r)
	if !ok {
		return
	}
	agent, err := s.manager.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleRenameAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[renameAgentRequest](w, r)
	if !ok {
		return
	}
	agent, err := s.manager.Rename(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.manager.Start(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleStopAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.manager.Stop(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// handleAgentLogs streams logs as plain text over the response body.
// ?follow=true keeps the stream open; ?from_beginning=true replays history.
func (s *Server) handleAgentLogs(w http.ResponseWriter, r *http.Request) {
	opts := lifecycle.LogOptions{
		FromBeginning: r.URL.Query().Get("from_beginning") == "true",
		Follow:        r.URL.Query().Get("follow") == "true",
	}
	rc, err := s.manager.StreamLogs(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if _, err := io.WriteString(w, scanner.Text()+"\n"); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) handleAgentEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.manager.Events(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
