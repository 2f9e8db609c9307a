package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/miniidp/miniidp/internal/db/models"
	"github.com/miniidp/miniidp/internal/services/iam"
)

// crudRepository is the persistence shape every admin-managed entity
// provides. The concrete repositories satisfy it structurally.
type crudRepository[T any] interface {
	List(ctx context.Context) ([]T, error)
	Get(ctx context.Context, idOrName string) (*T, error)
	Create(ctx context.Context, obj *T) error
	Update(ctx context.Context, obj *T, idOrName string) (int64, error)
	Delete(ctx context.Context, idOrName string) (int64, error)
	Count(ctx context.Context) (int, error)
}

// restResource ties one entity kind to its repository, scope namespace and
// sensitive-field handling.
type restResource[T any] struct {
	server    *Server
	namespace string
	repo      crudRepository[T]

	// ensureID assigns a fresh id to created objects that carry none.
	ensureID func(*T)
	// sanitize strips sensitive fields; nil when the kind has none.
	sanitize func(T) T
}

func (s *Server) scopeResource() *restResource[models.Scope] {
	return &restResource[models.Scope]{
		server:    s,
		namespace: "idp.scope",
		repo:      s.scopeRepo,
		ensureID:  func(v *models.Scope) { setIfEmpty(&v.ID) },
	}
}

func (s *Server) roleResource() *restResource[models.Role] {
	return &restResource[models.Role]{
		server:    s,
		namespace: "idp.role",
		repo:      s.roleRepo,
		ensureID:  func(v *models.Role) { setIfEmpty(&v.ID) },
	}
}

func (s *Server) userResource() *restResource[models.User] {
	return &restResource[models.User]{
		server:    s,
		namespace: "idp.user",
		repo:      s.userRepo,
		ensureID:  func(v *models.User) { setIfEmpty(&v.ID) },
		sanitize:  models.User.WithoutSensitiveFields,
	}
}

func (s *Server) clientResource() *restResource[models.OAuthClient] {
	return &restResource[models.OAuthClient]{
		server:    s,
		namespace: "idp.client",
		repo:      s.clientRepo,
		ensureID:  func(v *models.OAuthClient) { setIfEmpty(&v.ID) },
		sanitize:  models.OAuthClient.WithoutSensitiveFields,
	}
}

func (s *Server) policyResource() *restResource[models.Policy] {
	return &restResource[models.Policy]{
		server:    s,
		namespace: "idp.policy",
		repo:      s.policyRepo,
		ensureID:  func(v *models.Policy) { setIfEmpty(&v.ID) },
	}
}

func setIfEmpty(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// mountResource registers the REST routes of one entity kind.
func mountResource[T any](r chi.Router, kind string, res *restResource[T]) {
	r.Route("/"+kind, func(r chi.Router) {
		r.Get("/", res.handleList)
		r.Post("/", res.handleCreate)
		r.Get("/{id}", res.handleGet)
		r.Put("/{id}", res.handleReplace)
		r.Patch("/{id}", res.handlePatch)
		r.Delete("/{id}", res.handleDelete)
	})
}

// authorize runs the gate for this resource and reports whether sensitive
// fields may be shown.
func (res *restResource[T]) authorize(w http.ResponseWriter, r *http.Request, action string) (reveal, ok bool) {
	claims, err := res.server.gate.Authorize(r.Header.Get("Authorization"), res.namespace, action)
	if err != nil {
		writeError(w, err)
		return false, false
	}
	return res.server.gate.CanRevealSensitive(claims, r.Header.Get("X-Access-Level")), true
}

func (res *restResource[T]) render(obj T, reveal bool) T {
	if res.sanitize == nil || reveal {
		return obj
	}
	return res.sanitize(obj)
}

func (res *restResource[T]) handleList(w http.ResponseWriter, r *http.Request) {
	reveal, ok := res.authorize(w, r, iam.ActionList)
	if !ok {
		return
	}

	items, err := res.repo.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	rendered := make([]T, 0, len(items))
	for _, item := range items {
		rendered = append(rendered, res.render(item, reveal))
	}
	writeJSON(w, http.StatusOK, rendered)
}

func (res *restResource[T]) handleGet(w http.ResponseWriter, r *http.Request) {
	reveal, ok := res.authorize(w, r, iam.ActionRead)
	if !ok {
		return
	}

	obj, err := res.repo.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if obj == nil {
		writeCodedError(w, http.StatusNotFound, "not-found", "")
		return
	}
	writeJSON(w, http.StatusOK, res.render(*obj, reveal))
}

func (res *restResource[T]) handleCreate(w http.ResponseWriter, r *http.Request) {
	reveal, ok := res.authorize(w, r, iam.ActionWrite)
	if !ok {
		return
	}

	var obj T
	if err := json.NewDecoder(r.Body).Decode(&obj); err != nil {
		writeCodedError(w, http.StatusBadRequest, iam.CodeInvalidRequest, "malformed request body")
		return
	}
	res.ensureID(&obj)

	if err := res.repo.Create(r.Context(), &obj); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res.render(obj, reveal))
}

func (res *restResource[T]) handleReplace(w http.ResponseWriter, r *http.Request) {
	reveal, ok := res.authorize(w, r, iam.ActionWrite)
	if !ok {
		return
	}

	var obj T
	if err := json.NewDecoder(r.Body).Decode(&obj); err != nil {
		writeCodedError(w, http.StatusBadRequest, iam.CodeInvalidRequest, "malformed request body")
		return
	}

	affected, err := res.repo.Update(r.Context(), &obj, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if affected == 0 {
		writeCodedError(w, http.StatusNotFound, "not-found", "")
		return
	}
	writeJSON(w, http.StatusOK, res.render(obj, reveal))
}

func (res *restResource[T]) handlePatch(w http.ResponseWriter, r *http.Request) {
	reveal, ok := res.authorize(w, r, iam.ActionWrite)
	if !ok {
		return
	}
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var ops []patchOperation
	if err := json.NewDecoder(r.Body).Decode(&ops); err != nil {
		writeCodedError(w, http.StatusBadRequest, iam.CodeInvalidRequest, "malformed patch document")
		return
	}

	existing, err := res.repo.Get(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if existing == nil {
		writeCodedError(w, http.StatusNotFound, "not-found", "")
		return
	}

	patched, err := applyPatch(*existing, ops)
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := res.repo.Update(ctx, &patched, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res.render(patched, reveal))
}

func (res *restResource[T]) handleDelete(w http.ResponseWriter, r *http.Request) {
	if _, ok := res.authorize(w, r, iam.ActionDelete); !ok {
		return
	}

	affected, err := res.repo.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if affected == 0 {
		writeCodedError(w, http.StatusGone, "already-gone", "")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// patchOperation is one step of a simple JSON-patch document. Only
// top-level fields can be addressed.
type patchOperation struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

// applyPatch applies add/replace/remove operations through a JSON
// round trip, so field names and types follow the entity's JSON tags.
func applyPatch[T any](obj T, ops []patchOperation) (T, error) {
	var zero T

	raw, err := json.Marshal(obj)
	if err != nil {
		return zero, err
	}
	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return zero, err
	}

	for _, op := range ops {
		field := strings.TrimPrefix(op.Path, "/")
		if field == "" || strings.Contains(field, "/") {
			return zero, iam.NewError(iam.CodeInvalidRequest, "unsupported patch path "+op.Path)
		}
		switch op.Op {
		case "add", "replace":
			doc[field] = op.Value
		case "remove":
			delete(doc, field)
		default:
			return zero, iam.NewError(iam.CodeInvalidRequest, "unsupported patch op "+op.Op)
		}
	}

	merged, err := json.Marshal(doc)
	if err != nil {
		return zero, err
	}
	var patched T
	if err := json.Unmarshal(merged, &patched); err != nil {
		return zero, iam.NewError(iam.CodeInvalidRequest, "patch produced an invalid object")
	}
	return patched, nil
}

// handleStats reports per-kind row counts.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if _, err := s.gate.Authorize(r.Header.Get("Authorization"), "idp.scope", iam.ActionList); err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()

	stats := map[string]int{}
	for kind, count := range map[string]func(context.Context) (int, error){
		"scopes":   s.scopeRepo.Count,
		"roles":    s.roleRepo.Count,
		"users":    s.userRepo.Count,
		"clients":  s.clientRepo.Count,
		"policies": s.policyRepo.Count,
	} {
		n, err := count(ctx)
		if err != nil {
			writeError(w, err)
			return
		}
		stats[kind] = n
	}
	writeJSON(w, http.StatusOK, stats)
}
