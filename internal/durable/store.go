package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lewisedginton/memory_vault/internal/engine"
	"github.com/lewisedginton/memory_vault/pkg/logger"
	"github.com/lewisedginton/memory_vault/pkg/userlock"
)

// DocumentPath is the fixed, well-known path of the per-user document inside
// that user's container.
const DocumentPath = "memories.json"

// conflictRetries bounds how often a mutation re-reads after a version
// conflict. The per-user lock makes conflicts rare; this is the safety net
// for writers outside this process.
const conflictRetries = 3

// DocumentStore reads and writes individual memory records inside one JSON
// document per user. All mutating calls for the same user are serialized
// in-process; reads are not serialized against writes.
type DocumentStore struct {
	api     API
	creds   CredentialSource
	locks   *userlock.Keyed
	log     logger.Logger
	timeout time.Duration
}

// DocumentStoreConfig holds configuration for the document store.
type DocumentStoreConfig struct {
	API         API
	Credentials CredentialSource
	Logger      logger.Logger
	// CallTimeout bounds each remote round-trip. Defaults to 30s.
	CallTimeout time.Duration
}

// NewDocumentStore creates a document store.
func NewDocumentStore(cfg DocumentStoreConfig) (*DocumentStore, error) {
	if cfg.API == nil {
		return nil, fmt.Errorf("durable API is required")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("credential source is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	timeout := cfg.CallTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &DocumentStore{
		api:     cfg.API,
		creds:   cfg.Credentials,
		locks:   userlock.NewKeyed(),
		log:     cfg.Logger,
		timeout: timeout,
	}, nil
}

// Get returns a single memory, or engine.ErrNotFound if the document or the
// id is absent. A not-yet-created container reads as an empty document.
func (s *DocumentStore) Get(ctx context.Context, userID, id string) (engine.Memory, error) {
	doc, _, err := s.loadDocument(ctx, userID)
	if err != nil {
		return engine.Memory{}, err
	}
	mem, ok := doc.Memories[id]
	if !ok {
		return engine.Memory{}, fmt.Errorf("memory %s: %w", id, engine.ErrNotFound)
	}
	return mem, nil
}

// ListIDs returns all memory ids in the user's document, sorted for
// deterministic output.
func (s *DocumentStore) ListIDs(ctx context.Context, userID string) ([]string, error) {
	doc, _, err := s.loadDocument(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(doc.Memories))
	for id := range doc.Memories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ListAll returns every memory in the user's document.
func (s *DocumentStore) ListAll(ctx context.Context, userID string) ([]engine.Memory, error) {
	doc, _, err := s.loadDocument(ctx, userID)
	if err != nil {
		return nil, err
	}
	memories := make([]engine.Memory, 0, len(doc.Memories))
	for _, mem := range doc.Memories {
		memories = append(memories, mem)
	}
	sort.Slice(memories, func(i, j int) bool { return memories[i].ID < memories[j].ID })
	return memories, nil
}

// Document returns the user's full durable document. Used by the reconciler.
func (s *DocumentStore) Document(ctx context.Context, userID string) (*engine.DurableDocument, error) {
	doc, _, err := s.loadDocument(ctx, userID)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Put writes a memory record into the user's document.
func (s *DocumentStore) Put(ctx context.Context, userID string, mem engine.Memory) error {
	msg := fmt.Sprintf("[auto] Write memory %s", mem.ID)
	return s.mutate(ctx, userID, msg, func(doc *engine.DurableDocument) error {
		doc.Memories[mem.ID] = mem
		return nil
	})
}

// Delete removes a memory record from the user's document. Deleting an absent
// id fails with engine.ErrNotFound.
func (s *DocumentStore) Delete(ctx context.Context, userID, id string) error {
	msg := fmt.Sprintf("[auto] Delete memory %s", id)
	return s.mutate(ctx, userID, msg, func(doc *engine.DurableDocument) error {
		if _, ok := doc.Memories[id]; !ok {
			return fmt.Errorf("memory %s: %w", id, engine.ErrNotFound)
		}
		delete(doc.Memories, id)
		return nil
	})
}

// mutate runs one serialized read-modify-write cycle against the user's
// document: load current revision and version token, apply fn, recompute the
// document metadata, and write back with the token so the remote API rejects
// a stale revision. A timeout on the write path is a hard failure.
func (s *DocumentStore) mutate(ctx context.Context, userID, message string, fn func(*engine.DurableDocument) error) error {
	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)

	user, err := s.creds.Provision(ctx, userID)
	if err != nil {
		return err
	}
	cred := Credential{Token: user.Credential}

	var lastErr error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		doc, version, err := s.loadDocumentFor(ctx, user)
		if err != nil {
			return err
		}

		if err := fn(doc); err != nil {
			return err
		}
		now := time.Now().UTC()
		doc.Version++
		doc.Touch(now)

		content, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal document: %w", err)
		}

		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		_, err = s.api.PutDocument(callCtx, cred, user.StoreLocation.Owner, user.StoreLocation.Repo, DocumentPath, content, version, message)
		cancel()
		if err == nil {
			return nil
		}
		if !errors.Is(err, engine.ErrVersionConflict) {
			return err
		}
		// The per-user lock means another process moved the document.
		// Re-read and reapply.
		s.log.Warn("Durable write hit version conflict, retrying",
			logger.UserIDField(userID),
			logger.IntField("attempt", attempt+1))
		lastErr = err
	}
	return lastErr
}

// loadDocument resolves the user and loads their document, treating an absent
// container or document as empty.
func (s *DocumentStore) loadDocument(ctx context.Context, userID string) (*engine.DurableDocument, string, error) {
	user, err := s.creds.Resolve(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	return s.loadDocumentFor(ctx, user)
}

func (s *DocumentStore) loadDocumentFor(ctx context.Context, user engine.User) (*engine.DurableDocument, string, error) {
	if user.StoreLocation.IsZero() {
		// Container not provisioned yet: the document reads as empty.
		return engine.NewDurableDocument(time.Now().UTC()), "", nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cred := Credential{Token: user.Credential}
	content, version, err := s.api.GetDocument(callCtx, cred, user.StoreLocation.Owner, user.StoreLocation.Repo, DocumentPath)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return engine.NewDurableDocument(time.Now().UTC()), "", nil
		}
		return nil, "", err
	}

	var doc engine.DurableDocument
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal document: %w", err)
	}
	if doc.Memories == nil {
		doc.Memories = make(map[string]engine.Memory)
	}
	return &doc, version, nil
}
