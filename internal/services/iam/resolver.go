package iam

import (
	"context"
	"fmt"

	"github.com/miniidp/miniidp/internal/db/models"
	"github.com/miniidp/miniidp/internal/repository"
)

// Resolution is the resolver output: every expanded actor as a descriptive
// "Kind/name" string, plus the policies that survived filtering. Granted
// scopes are the union of scopes across the surviving policies.
type Resolution struct {
	Subjects []string
	Policies []models.Policy
}

// GrantedScopes returns the deduplicated union of scopes across the
// surviving policies.
func (r *Resolution) GrantedScopes() []string {
	seen := make(map[string]struct{})
	var scopes []string
	for _, policy := range r.Policies {
		for _, scope := range policy.Scopes {
			if _, ok := seen[scope]; ok {
				continue
			}
			seen[scope] = struct{}{}
			scopes = append(scopes, scope)
		}
	}
	return scopes
}

// PolicyResolver maps subjects plus a resource URL plus requested scopes
// onto the policies that grant them.
type PolicyResolver struct {
	clients  repository.ClientRepository
	roles    repository.RoleRepository
	users    repository.UserRepository
	policies repository.PolicyRepository

	selfReferenceURI string
}

// NewPolicyResolver wires the resolver to its repositories. The
// selfReferenceURI is the default resource URL.
func NewPolicyResolver(
	clients repository.ClientRepository,
	roles repository.RoleRepository,
	users repository.UserRepository,
	policies repository.PolicyRepository,
	selfReferenceURI string,
) *PolicyResolver {
	return &PolicyResolver{
		clients:          clients,
		roles:            roles,
		users:            users,
		policies:         policies,
		selfReferenceURI: selfReferenceURI,
	}
}

// expandedActors holds the concrete principals behind the input subjects.
// Users contribute their roles, so a role-bound policy matches the user too.
type expandedActors struct {
	descriptions []string
	clientNames  map[string]struct{}
	roleNames    map[string]struct{}
	userEmails   map[string]struct{}
}

// Evaluate expands subjects to concrete actors, selects policies by resource
// and filters them by subject and requested scopes. An unknown subject fails
// the whole evaluation with an invalid-subject error.
func (r *PolicyResolver) Evaluate(ctx context.Context, subjects []models.PolicySubject, resourceURL string, requestedScopes []string) (*Resolution, error) {
	if resourceURL == "" {
		resourceURL = r.selfReferenceURI
	}

	actors, err := r.expand(ctx, subjects)
	if err != nil {
		return nil, err
	}

	candidates, err := r.policies.FindByResource(ctx, resourceURL)
	if err != nil {
		return nil, fmt.Errorf("finding policies for %q: %w", resourceURL, err)
	}

	var matched []models.Policy
	for _, policy := range candidates {
		if !actors.matchesAny(policy.Subjects) {
			continue
		}
		if len(requestedScopes) > 0 && !containsAll(policy.Scopes, requestedScopes) {
			continue
		}
		matched = append(matched, policy)
	}

	return &Resolution{Subjects: actors.descriptions, Policies: matched}, nil
}

func (r *PolicyResolver) expand(ctx context.Context, subjects []models.PolicySubject) (*expandedActors, error) {
	actors := &expandedActors{
		clientNames: make(map[string]struct{}),
		roleNames:   make(map[string]struct{}),
		userEmails:  make(map[string]struct{}),
	}

	for _, subject := range subjects {
		switch subject.Kind {
		case models.SubjectKindClient:
			client, err := r.clients.Get(ctx, subject.Subject)
			if err != nil {
				return nil, err
			}
			if client == nil {
				return nil, NewError(CodeInvalidSubject, "unknown client "+subject.Subject)
			}
			actors.clientNames[client.Name] = struct{}{}
			actors.describe("Client", client.Name)

		case models.SubjectKindRole:
			role, err := r.roles.Get(ctx, subject.Subject)
			if err != nil {
				return nil, err
			}
			if role == nil {
				return nil, NewError(CodeInvalidSubject, "unknown role "+subject.Subject)
			}
			actors.roleNames[role.Name] = struct{}{}
			actors.describe("Role", role.Name)

		case models.SubjectKindUser:
			user, err := r.users.Get(ctx, subject.Subject)
			if err != nil {
				return nil, err
			}
			if user == nil {
				return nil, NewError(CodeInvalidSubject, "unknown user "+subject.Subject)
			}
			actors.userEmails[user.Email] = struct{}{}
			actors.describe("User", user.Name)

			roles, err := r.roles.ListByNames(ctx, user.Roles)
			if err != nil {
				return nil, err
			}
			for _, role := range roles {
				if _, ok := actors.roleNames[role.Name]; ok {
					continue
				}
				actors.roleNames[role.Name] = struct{}{}
				actors.describe("Role", role.Name)
			}

		default:
			return nil, NewError(CodeInvalidSubject, "unknown subject kind "+subject.Kind)
		}
	}

	return actors, nil
}

func (a *expandedActors) describe(kind, name string) {
	a.descriptions = append(a.descriptions, kind+"/"+name)
}

// matchesAny reports whether any policy subject names one of the expanded
// actors. Client and role subjects match by name; user subjects match by
// email.
func (a *expandedActors) matchesAny(subjects models.PolicySubjectList) bool {
	for _, subject := range subjects {
		switch subject.Kind {
		case models.SubjectKindClient:
			if _, ok := a.clientNames[subject.Subject]; ok {
				return true
			}
		case models.SubjectKindRole:
			if _, ok := a.roleNames[subject.Subject]; ok {
				return true
			}
		case models.SubjectKindUser:
			if _, ok := a.userEmails[subject.Subject]; ok {
				return true
			}
		}
	}
	return false
}

// containsAll reports whether every wanted scope appears in granted.
func containsAll(granted models.StringList, wanted []string) bool {
	for _, scope := range wanted {
		if !granted.Contains(scope) {
			return false
		}
	}
	return true
}
