package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/miniidp/miniidp/internal/repository"
	"github.com/miniidp/miniidp/internal/services/iam"
)

// errorBody is the OAuth-style error envelope every endpoint uses.
type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// statusOf maps wire error codes to HTTP status codes. Codes issued only in
// a specific endpoint context are overridden at the call site.
func statusOf(code string) int {
	switch code {
	case iam.CodeInvalidClient, iam.CodeUnauthorizedClient, iam.CodeMissingToken,
		iam.CodeInvalidToken, iam.CodeNotAuthenticated:
		return http.StatusUnauthorized
	case iam.CodeWrongUserCode, iam.CodeGateDenied:
		return http.StatusForbidden
	case iam.CodeUnsupportedGrantType:
		return http.StatusNotImplemented
	case iam.CodeInvalidRequest, iam.CodeInvalidScope, iam.CodeInvalidGrant,
		iam.CodeExpiredToken, iam.CodeAuthorizationPending, iam.CodeSlowDown,
		iam.CodeAuthorizationDeclined, iam.CodeAccessDenied,
		iam.CodeInvalidCredential, iam.CodeInvalidSubject:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError translates an error into the wire envelope. Storage conflicts
// keep their wire strings; anything else without a wire code is internal,
// logged and collapsed into a 500.
func writeError(w http.ResponseWriter, err error) {
	var coded *iam.Error
	switch {
	case errors.As(err, &coded):
		writeJSON(w, statusOf(coded.Code), errorBody{Error: coded.Code, Description: coded.Description})
	case errors.Is(err, repository.ErrDuplicate):
		writeJSON(w, http.StatusConflict, errorBody{Error: "duplicate", Description: "an object with the same identity already exists"})
	case errors.Is(err, repository.ErrStorage):
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "storage-error", Description: "the storage rejected the change"})
	default:
		log.Printf("ERROR: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Description: "internal server error"})
	}
}

// writeCodedError forces a specific status, keeping the envelope.
func writeCodedError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorBody{Error: code, Description: description})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}
