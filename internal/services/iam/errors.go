package iam

import (
	"errors"
	"regexp"
	"sort"
	"strings"
)

// Wire-level error codes. OAuth-standard codes use underscores; the
// gate and resolver codes keep their historical dotted/hyphenated forms.
const (
	CodeInvalidRequest       = "invalid_request"
	CodeInvalidClient        = "invalid_client"
	CodeInvalidGrant         = "invalid_grant"
	CodeUnauthorizedClient   = "unauthorized_client"
	CodeUnsupportedGrantType = "unsupported_grant_type"
	CodeInvalidScope         = "invalid_scope"

	CodeAccessDenied          = "access_denied"
	CodeExpiredToken          = "expired_token"
	CodeAuthorizationDeclined = "authorization_declined"
	CodeAuthorizationPending  = "authorization_pending"
	CodeSlowDown              = "slow_down"
	CodeWrongUserCode         = "wrong_user_code"
	CodeNotAuthenticated      = "not_authenticated"
	CodeInvalidCredential     = "invalid_credential"

	CodeMissingToken   = "missing-token"
	CodeInvalidToken   = "invalid-token"
	CodeGateDenied     = "access.denied"
	CodeInvalidSubject = "invalid-subject"
)

// Error is a failure with a wire-level code. HTTP handlers translate codes
// to status codes in one place.
type Error struct {
	Code        string
	Description string
}

// NewError builds an Error with an optional description.
func NewError(code, description string) *Error {
	return &Error{Code: code, Description: description}
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// CodeOf extracts the wire code from an error chain, or "" for plain errors.
func CodeOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

var scopeSplitter = regexp.MustCompile(`\s*,\s*|\s+`)

// SplitScopes splits a scope claim or form value. Whitespace is the
// separator; stray commas around it are tolerated.
func SplitScopes(value string) []string {
	var scopes []string
	for _, scope := range scopeSplitter.Split(value, -1) {
		if scope != "" {
			scopes = append(scopes, scope)
		}
	}
	return scopes
}

// JoinScopes renders a scope set as the canonical claim string: ascending
// order, space separated.
func JoinScopes(scopes []string) string {
	sorted := make([]string, len(scopes))
	copy(sorted, scopes)
	sort.Strings(sorted)
	return strings.Join(sorted, " ")
}
