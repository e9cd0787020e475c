package durable

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/lewisedginton/memory_vault/internal/engine"
)

// LocalGitAPI implements API against git repositories on the local
// filesystem. Each container is a repository under baseDir/owner/name and
// every document write is a commit. The version token is the blob hash of
// the stored document, so a stale write is rejected the same way the hosted
// backend rejects a stale SHA.
//
// Used for development and self-hosted deployments where no hosting service
// is available; credentials are accepted but not verified beyond presence.
type LocalGitAPI struct {
	baseDir     string
	authorName  string
	authorEmail string
	mu          sync.Mutex
}

// LocalGitConfig holds options for the local backend.
type LocalGitConfig struct {
	// BaseDir is the root directory holding all container repositories.
	BaseDir string
	// AuthorName is the name used for commits.
	AuthorName string
	// AuthorEmail is the email used for commits.
	AuthorEmail string
}

// NewLocalGitAPI creates a local git-backed API.
func NewLocalGitAPI(cfg LocalGitConfig) (*LocalGitAPI, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	authorName := cfg.AuthorName
	if authorName == "" {
		authorName = "MemoryVault"
	}
	authorEmail := cfg.AuthorEmail
	if authorEmail == "" {
		authorEmail = "memoryvault@localhost"
	}

	if err := os.MkdirAll(cfg.BaseDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &LocalGitAPI{
		baseDir:     cfg.BaseDir,
		authorName:  authorName,
		authorEmail: authorEmail,
	}, nil
}

// GetDocument reads a document and derives its version token.
func (p *LocalGitAPI) GetDocument(ctx context.Context, cred Credential, owner, repo, path string) ([]byte, string, error) {
	if cred.IsZero() {
		return nil, "", fmt.Errorf("durable store call without credential: %w", engine.ErrUnauthorized)
	}

	repoPath := p.repoPath(owner, repo)
	if _, err := git.PlainOpen(repoPath); err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, "", fmt.Errorf("get document: %w", engine.ErrNotFound)
		}
		return nil, "", fmt.Errorf("open repository: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(repoPath, path)) //nolint:gosec // G304: path is the store's fixed document path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("get document: %w", engine.ErrNotFound)
		}
		return nil, "", fmt.Errorf("read document: %w", err)
	}

	return data, blobVersion(data), nil
}

// PutDocument writes a document revision and commits it. expectedVersion must
// match the stored blob hash (or be empty for a not-yet-created document).
func (p *LocalGitAPI) PutDocument(ctx context.Context, cred Credential, owner, repo, path string, content []byte, expectedVersion, message string) (string, error) {
	if cred.IsZero() {
		return "", fmt.Errorf("durable store call without credential: %w", engine.ErrUnauthorized)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	repoPath := p.repoPath(owner, repo)
	gitRepo, err := git.PlainOpen(repoPath)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", fmt.Errorf("put document: container absent: %w", engine.ErrNotFound)
		}
		return "", fmt.Errorf("open repository: %w", err)
	}

	fullPath := filepath.Join(repoPath, path)
	currentVersion := ""
	if data, err := os.ReadFile(fullPath); err == nil { //nolint:gosec // G304: fixed document path
		currentVersion = blobVersion(data)
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read current document: %w", err)
	}

	if currentVersion != expectedVersion {
		return "", fmt.Errorf("put document %s: stored revision moved: %w", path, engine.ErrVersionConflict)
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(fullPath, content, 0o600); err != nil {
		return "", fmt.Errorf("failed to write document: %w", err)
	}

	worktree, err := gitRepo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}
	if _, err := worktree.Add(path); err != nil {
		return "", fmt.Errorf("failed to stage document: %w", err)
	}

	if message == "" {
		message = fmt.Sprintf("[auto] Write %s", path)
	}
	_, err = worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  p.authorName,
			Email: p.authorEmail,
			When:  time.Now(),
		},
	})
	if err != nil && !strings.Contains(err.Error(), "nothing to commit") {
		return "", fmt.Errorf("failed to commit: %w", err)
	}

	return blobVersion(content), nil
}

// GetContainer checks that a container repository exists.
func (p *LocalGitAPI) GetContainer(ctx context.Context, cred Credential, owner, repo string) (ContainerRef, error) {
	if cred.IsZero() {
		return ContainerRef{}, fmt.Errorf("durable store call without credential: %w", engine.ErrUnauthorized)
	}

	repoPath := p.repoPath(owner, repo)
	if _, err := git.PlainOpen(repoPath); err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return ContainerRef{}, fmt.Errorf("get container: %w", engine.ErrNotFound)
		}
		return ContainerRef{}, fmt.Errorf("open repository: %w", err)
	}
	return ContainerRef{Owner: owner, Name: repo, URL: repoPath}, nil
}

// CreateContainer initializes a new container repository.
func (p *LocalGitAPI) CreateContainer(ctx context.Context, cred Credential, owner string, spec ContainerSpec) (ContainerRef, error) {
	if cred.IsZero() {
		return ContainerRef{}, fmt.Errorf("durable store call without credential: %w", engine.ErrUnauthorized)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	repoPath := p.repoPath(owner, spec.Name)
	if err := os.MkdirAll(repoPath, 0o750); err != nil {
		return ContainerRef{}, fmt.Errorf("failed to create repository directory: %w", err)
	}
	if _, err := git.PlainInit(repoPath, false); err != nil {
		if !errors.Is(err, git.ErrRepositoryAlreadyExists) {
			return ContainerRef{}, fmt.Errorf("failed to initialize repository: %w", err)
		}
	}
	return ContainerRef{Owner: owner, Name: spec.Name, URL: repoPath}, nil
}

func (p *LocalGitAPI) repoPath(owner, repo string) string {
	return filepath.Join(p.baseDir, owner, repo)
}

// blobVersion derives the version token for document content: the git blob
// hash, matching what the hosted backend reports for the same bytes.
func blobVersion(content []byte) string {
	return plumbing.ComputeHash(plumbing.BlobObject, content).String()
}
