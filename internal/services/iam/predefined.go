package iam

import (
	"github.com/google/uuid"
	"github.com/miniidp/miniidp/internal/db/models"
)

// Predefined scope names referenced across the codebase.
const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopeOfflineAccess = "offline_access"
	ScopeImpersonation = "user.impersonation"

	ScopeIDPRoot  = "idp.root"
	ScopeIDPAdmin = "idp.admin"
)

// Predefined role names.
const (
	RoleIDPRoot  = "idp.root"
	RoleIDPAdmin = "idp.admin"
	RoleIDPUser  = "idp.user"
)

type predefinedScope struct {
	name        string
	description string
	sensitive   bool
}

var predefinedScopes = []predefinedScope{
	{ScopeOpenID, "OpenID Connect", false},
	{ScopeProfile, "Profile", false},
	{ScopeEmail, "E-mail Address", false},
	{ScopeOfflineAccess, "Offline Access", true},
	{ScopeImpersonation, "Read Access to User Profile", false},

	{ScopeIDPRoot, "IDP Root Administrator", false},
	{ScopeIDPAdmin, "IDP Administrator", false},

	{"idp.client.list", "List OAuth clients", false},
	{"idp.client.read", "Read OAuth clients", false},
	{"idp.client.write", "Write OAuth clients", true},
	{"idp.client.delete", "Delete OAuth clients", true},
	{"idp.policy.list", "List IAM policies", false},
	{"idp.policy.read", "Read IAM policies", false},
	{"idp.policy.write", "Write IAM policies", true},
	{"idp.policy.delete", "Delete IAM policies", true},
	{"idp.role.list", "List IAM roles", false},
	{"idp.role.read", "Read IAM roles", false},
	{"idp.role.write", "Write IAM roles", true},
	{"idp.role.delete", "Delete IAM roles", true},
	{"idp.scope.list", "List IAM scopes", false},
	{"idp.scope.read", "Read IAM scopes", false},
	{"idp.scope.write", "Write IAM scopes", true},
	{"idp.scope.delete", "Delete IAM scopes", true},
	{"idp.user.list", "List IAM users", false},
	{"idp.user.read", "Read IAM users", false},
	{"idp.user.write", "Write IAM users", true},
	{"idp.user.delete", "Delete IAM users", true},
}

// commonScopeNames are granted to every predefined role.
var commonScopeNames = []string{
	ScopeOpenID,
	ScopeProfile,
	"idp.client.list", "idp.client.read",
	"idp.policy.list", "idp.policy.read",
	"idp.role.list", "idp.role.read",
	"idp.scope.list", "idp.scope.read",
	"idp.user.list", "idp.user.read",
}

// adminScopeNames extend commonScopeNames for administrative roles. Write
// scopes double as the permission to read sensitive fields.
var adminScopeNames = []string{
	ScopeIDPAdmin,
	"idp.client.delete", "idp.client.write",
	"idp.policy.delete", "idp.policy.write",
	"idp.role.delete", "idp.role.write",
	"idp.scope.delete", "idp.scope.write",
	"idp.user.delete", "idp.user.write",
}

// PredefinedScopes returns the fixed scope rows seeded by bootstrap.
func PredefinedScopes() []models.Scope {
	scopes := make([]models.Scope, 0, len(predefinedScopes))
	for _, s := range predefinedScopes {
		scopes = append(scopes, models.Scope{
			ID:          uuid.NewString(),
			Name:        s.name,
			Description: s.description,
			Sensitive:   s.sensitive,
			Fixed:       true,
		})
	}
	return scopes
}

// PredefinedRoles returns the fixed role rows seeded by bootstrap.
func PredefinedRoles() []models.Role {
	return []models.Role{
		{ID: uuid.NewString(), Name: RoleIDPRoot, Description: "IDP Owner", Fixed: true},
		{ID: uuid.NewString(), Name: RoleIDPAdmin, Description: "IDP Admin", Fixed: true},
		{ID: uuid.NewString(), Name: RoleIDPUser, Description: "IDP User", Fixed: true},
	}
}

// PredefinedPolicies returns the fixed policy rows, bound to the issuer URL
// as their resource.
func PredefinedPolicies(selfReferenceURI string) []models.Policy {
	rootScopes := append(append([]string{}, commonScopeNames...), adminScopeNames...)
	rootScopes = append(rootScopes, ScopeIDPRoot)

	adminScopes := append(append([]string{}, commonScopeNames...), adminScopeNames...)

	return []models.Policy{
		{
			ID:       uuid.NewString(),
			Name:     "idp.root",
			Resource: selfReferenceURI,
			Subjects: models.PolicySubjectList{{Kind: models.SubjectKindRole, Subject: RoleIDPRoot}},
			Scopes:   rootScopes,
			Fixed:    true,
		},
		{
			ID:       uuid.NewString(),
			Name:     "idp.admins",
			Resource: selfReferenceURI,
			Subjects: models.PolicySubjectList{{Kind: models.SubjectKindRole, Subject: RoleIDPAdmin}},
			Scopes:   adminScopes,
			Fixed:    true,
		},
		{
			ID:       uuid.NewString(),
			Name:     "idp.users",
			Resource: selfReferenceURI,
			Subjects: models.PolicySubjectList{{Kind: models.SubjectKindRole, Subject: RoleIDPUser}},
			Scopes:   append([]string{}, commonScopeNames...),
			Fixed:    true,
		},
	}
}
