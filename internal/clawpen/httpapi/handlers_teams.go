package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clawpen/clawpen/internal/clawpen/lifecycle"
)

type classifyRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleListTeams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.teams.List())
}

func (s *Server) handleReloadTeams(w http.ResponseWriter, r *http.Request) {
	if err := s.teams.Reload(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": s.teams.List()})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[classifyRequest](w, r)
	if !ok {
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	decision, err := s.router.Classify(r.Context(), chi.URLParam(r, "name"), req.Message)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// The member's target agent must be known at routing time; a decision
	// naming a missing agent indicates a stale team catalog.
	if decision.Agent != "" {
		if _, err := s.manager.GetByName(r.Context(), decision.Agent); err != nil {
			if errors.Is(err, lifecycle.ErrNotFound) {
				s.logger.Warn("routing decision targets unknown agent",
					"team", decision.Team, "agent", decision.Agent)
			}
		}
	}
	writeJSON(w, http.StatusOK, decision)
}
