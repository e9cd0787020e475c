// Package durable implements the system of record: one version-controlled
// JSON document per user, hosted behind a Git content API. It provides the
// DurableStoreAPI collaborator contract with hosted and local backends, and
// the DocumentStore that performs serialized read-modify-write cycles against
// a user's document.
package durable

import (
	"context"

	"github.com/lewisedginton/memory_vault/internal/engine"
)

// Credential authenticates calls against the durable-store API.
type Credential struct {
	Token string
}

// IsZero reports whether no credential is present.
func (c Credential) IsZero() bool {
	return c.Token == ""
}

// ContainerRef identifies a provisioned per-user document container.
type ContainerRef struct {
	Owner string
	Name  string
	URL   string
}

// ContainerSpec describes a container to provision.
type ContainerSpec struct {
	Name        string
	Description string
	Private     bool
}

// API is the durable-store collaborator contract. Implementations map their
// wire-level failures onto the engine error kinds:
//
//   - engine.ErrNotFound for an absent document or container
//   - engine.ErrUnauthorized for a missing or rejected credential
//   - engine.ErrVersionConflict for a write with a stale version token
//   - engine.ErrUpstreamUnavailable for transport failures and timeouts
//
// A version token is an opaque value identifying one revision of a document.
// PutDocument with a non-empty expectedVersion must fail with
// engine.ErrVersionConflict when the stored revision has moved on; an empty
// expectedVersion asserts the document does not yet exist.
type API interface {
	GetDocument(ctx context.Context, cred Credential, owner, repo, path string) (content []byte, version string, err error)
	PutDocument(ctx context.Context, cred Credential, owner, repo, path string, content []byte, expectedVersion, message string) (newVersion string, err error)
	GetContainer(ctx context.Context, cred Credential, owner, repo string) (ContainerRef, error)
	CreateContainer(ctx context.Context, cred Credential, owner string, spec ContainerSpec) (ContainerRef, error)
}

// CredentialSource resolves the durable-store coordinates and credential for
// a user. Resolve fails with engine.ErrUnauthorized when no credential is on
// record; Provision additionally creates the user's container on first use
// and persists the resulting location.
type CredentialSource interface {
	Resolve(ctx context.Context, userID string) (engine.User, error)
	Provision(ctx context.Context, userID string) (engine.User, error)
}
