package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lewisedginton/memory_vault/internal/durable"
	"github.com/lewisedginton/memory_vault/internal/engine"
	"github.com/lewisedginton/memory_vault/pkg/logger"
)

// DefaultContainerName is the container provisioned for each user's durable
// document on first use.
const DefaultContainerName = "memory-vault"

// Resolver implements durable.CredentialSource on top of a user registry.
// Resolved users are cached in-process; Provision writes the container
// location back to the registry so provisioning happens once per user.
type Resolver struct {
	store         Store
	api           durable.API
	log           logger.Logger
	containerName string
	private       bool

	mu    sync.RWMutex
	cache map[string]engine.User
}

// ResolverConfig holds configuration for the resolver.
type ResolverConfig struct {
	Store Store
	API   durable.API
	Log   logger.Logger
	// ContainerName names each user's container. Defaults to DefaultContainerName.
	ContainerName string
	// Private controls visibility of provisioned containers.
	Private bool
}

// NewResolver creates a credential resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if cfg.API == nil {
		return nil, fmt.Errorf("durable API is required")
	}
	if cfg.Log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	name := cfg.ContainerName
	if name == "" {
		name = DefaultContainerName
	}
	return &Resolver{
		store:         cfg.Store,
		api:           cfg.API,
		log:           cfg.Log,
		containerName: name,
		private:       cfg.Private,
	}, nil
}

// Resolve returns the user's credential and store location. A missing user or
// an empty credential is a hard precondition failure: engine.ErrUnauthorized.
func (r *Resolver) Resolve(ctx context.Context, userID string) (engine.User, error) {
	r.mu.RLock()
	cached, ok := r.cache[userID]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return engine.User{}, fmt.Errorf("no credential on record for user %s: %w", userID, engine.ErrUnauthorized)
		}
		return engine.User{}, err
	}
	if user.Credential == "" {
		return engine.User{}, fmt.Errorf("no credential on record for user %s: %w", userID, engine.ErrUnauthorized)
	}

	r.remember(user)
	return user, nil
}

// Provision resolves the user and, when no store location is on record yet,
// creates the container and persists the location.
func (r *Resolver) Provision(ctx context.Context, userID string) (engine.User, error) {
	user, err := r.Resolve(ctx, userID)
	if err != nil {
		return engine.User{}, err
	}
	if !user.StoreLocation.IsZero() {
		return user, nil
	}

	cred := durable.Credential{Token: user.Credential}
	spec := durable.ContainerSpec{
		Name:        r.containerName,
		Description: "Memory vault durable store",
		Private:     r.private,
	}

	ref, err := r.api.CreateContainer(ctx, cred, userID, spec)
	if err != nil {
		// Another process may have provisioned in the meantime.
		existing, getErr := r.api.GetContainer(ctx, cred, userID, r.containerName)
		if getErr != nil {
			return engine.User{}, fmt.Errorf("provision container for user %s: %w", userID, err)
		}
		ref = existing
	}

	user.StoreLocation = engine.StoreLocation{Owner: ref.Owner, Repo: ref.Name}
	if err := r.store.SaveUser(ctx, user); err != nil {
		return engine.User{}, fmt.Errorf("persist store location for user %s: %w", userID, err)
	}
	r.remember(user)

	r.log.Info("Provisioned durable container",
		logger.UserIDField(userID),
		logger.StringField("owner", ref.Owner),
		logger.StringField("container", ref.Name))
	return user, nil
}

// SetCredential registers or replaces a user's access credential.
func (r *Resolver) SetCredential(ctx context.Context, userID, token string) error {
	if token == "" {
		return fmt.Errorf("credential must not be empty")
	}

	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, engine.ErrNotFound) {
			return err
		}
		user = engine.User{ID: userID}
	}
	user.Credential = token
	if err := r.store.SaveUser(ctx, user); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.cache, userID)
	r.mu.Unlock()
	return nil
}

func (r *Resolver) remember(user engine.User) {
	r.mu.Lock()
	if r.cache == nil {
		r.cache = make(map[string]engine.User)
	}
	r.cache[user.ID] = user
	r.mu.Unlock()
}
