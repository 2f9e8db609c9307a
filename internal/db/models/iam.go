// Package models defines the persisted entities. Each model maps one table;
// relationships are denormalized into JSON columns of names, never ids, so a
// row stays readable on its own.
package models

import (
	"github.com/uptrace/bun"
)

// Policy subject kinds.
const (
	SubjectKindClient = "client"
	SubjectKindUser   = "user"
	SubjectKindRole   = "role"
)

// OAuth grant types accepted by the token endpoint.
const (
	GrantTypeAuthorization     = "authorization"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypeDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
	GrantTypeImpersonation     = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// Scope is a named permission string carried in tokens.
// Fixed scopes are predefined and must not be deleted.
type Scope struct {
	bun.BaseModel `bun:"table:iam_scope,alias:s" json:"-" yaml:"-"`

	ID          string `bun:"id,pk,type:uuid" json:"id" yaml:"id"`
	Name        string `bun:"name,notnull,unique" json:"name" yaml:"name"`
	Description string `bun:"description" json:"description,omitempty" yaml:"description,omitempty"`
	Sensitive   bool   `bun:"sensitive" json:"sensitive" yaml:"sensitive"`
	Fixed       bool   `bun:"fixed" json:"fixed" yaml:"fixed"`
}

// Role groups users for policy binding.
type Role struct {
	bun.BaseModel `bun:"table:iam_role,alias:r" json:"-" yaml:"-"`

	ID          string `bun:"id,pk,type:uuid" json:"id" yaml:"id"`
	Name        string `bun:"name,notnull,unique" json:"name" yaml:"name"`
	Description string `bun:"description" json:"description,omitempty" yaml:"description,omitempty"`
	Fixed       bool   `bun:"fixed" json:"fixed" yaml:"fixed"`
}

// User is a human principal. The password is plaintext in memory and
// encrypted at rest; the repository handles the transformation.
type User struct {
	bun.BaseModel `bun:"table:iam_user,alias:u" json:"-" yaml:"-"`

	ID       string     `bun:"id,pk,type:uuid" json:"id" yaml:"id"`
	Name     string     `bun:"name,notnull,unique" json:"name" yaml:"name"`
	Password string     `bun:"encrypted_password" json:"password,omitempty" yaml:"password,omitempty"`
	Email    string     `bun:"email,notnull,unique" json:"email" yaml:"email"`
	FullName string     `bun:"full_name" json:"full_name,omitempty" yaml:"full_name,omitempty"`
	Roles    StringList `bun:"roles,type:jsonb" json:"roles" yaml:"roles"`
}

// WithoutSensitiveFields returns a copy safe to expose to unprivileged
// callers.
func (u User) WithoutSensitiveFields() User {
	u.Password = ""
	return u
}

// OAuthClient is a registered OAuth client. The secret is plaintext in
// memory and encrypted at rest. Scopes act as a scope limiter.
type OAuthClient struct {
	bun.BaseModel `bun:"table:iam_client,alias:c" json:"-" yaml:"-"`

	ID            string     `bun:"id,pk,type:uuid" json:"id" yaml:"id"`
	Name          string     `bun:"name,notnull,unique" json:"name" yaml:"name"`
	Secret        string     `bun:"encrypted_secret" json:"secret,omitempty" yaml:"secret,omitempty"`
	Audience      string     `bun:"audience" json:"audience" yaml:"audience"`
	GrantTypes    StringList `bun:"grant_types,type:jsonb" json:"grant_types" yaml:"grant_types"`
	ResponseTypes StringList `bun:"response_types,type:jsonb" json:"response_types" yaml:"response_types"`
	Scopes        StringList `bun:"scopes,type:jsonb" json:"scopes" yaml:"scopes"`
	Extras        ExtraMap   `bun:"extras,type:jsonb" json:"extras" yaml:"extras"`
	Description   string     `bun:"description" json:"description,omitempty" yaml:"description,omitempty"`
}

// WithoutSensitiveFields returns a copy safe to expose to unprivileged
// callers.
func (c OAuthClient) WithoutSensitiveFields() OAuthClient {
	c.Secret = ""
	return c
}

// PolicySubject identifies one grantee of a policy.
type PolicySubject struct {
	Kind    string `json:"kind" yaml:"kind"`
	Subject string `json:"subject" yaml:"subject"`
}

// Policy grants the listed scopes to the listed subjects on the listed
// resource URL.
type Policy struct {
	bun.BaseModel `bun:"table:iam_policy,alias:p" json:"-" yaml:"-"`

	ID       string            `bun:"id,pk,type:uuid" json:"id" yaml:"id"`
	Name     string            `bun:"name,notnull,unique" json:"name" yaml:"name"`
	Resource string            `bun:"resource" json:"resource" yaml:"resource"`
	Subjects PolicySubjectList `bun:"subjects,type:jsonb" json:"subjects" yaml:"subjects"`
	Scopes   StringList        `bun:"scopes,type:jsonb" json:"scopes" yaml:"scopes"`
	Fixed    bool              `bun:"fixed" json:"fixed" yaml:"fixed"`
}
