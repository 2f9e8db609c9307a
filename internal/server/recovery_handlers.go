package server

import (
	"encoding/json"
	"net/http"

	"github.com/miniidp/miniidp/internal/services/iam"
	"github.com/miniidp/miniidp/internal/snapshot"
)

// handleRecoveryExport dumps the whole IAM data set as one document.
func (s *Server) handleRecoveryExport(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot.Export(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleRecoveryImport replays a posted snapshot and answers with the
// resulting full export, so the caller can verify what the store now holds.
func (s *Server) handleRecoveryImport(w http.ResponseWriter, r *http.Request) {
	var snap snapshot.AppSnapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		writeCodedError(w, http.StatusBadRequest, iam.CodeInvalidRequest, "malformed snapshot document")
		return
	}

	if err := s.snapshot.Import(r.Context(), &snap); err != nil {
		writeError(w, err)
		return
	}

	exported, err := s.snapshot.Export(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exported)
}
