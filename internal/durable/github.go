package durable

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/lewisedginton/memory_vault/internal/engine"
)

// DefaultHostedBaseURL is the default endpoint for the hosted Git content API.
const DefaultHostedBaseURL = "https://api.github.com"

// HostedAPI implements API against a Git hosting service's content endpoints.
// The version token is the hosted blob SHA: a put carrying a stale SHA is
// rejected by the service, which is the safety net behind the per-user lock.
type HostedAPI struct {
	baseURL string
	client  *http.Client
}

// HostedAPIConfig holds options for the hosted backend.
type HostedAPIConfig struct {
	// BaseURL overrides the API endpoint, e.g. for an enterprise host or test server.
	BaseURL string
	// Timeout bounds each API round-trip.
	Timeout time.Duration
}

// NewHostedAPI creates a hosted-backend client.
func NewHostedAPI(cfg HostedAPIConfig) *HostedAPI {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultHostedBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HostedAPI{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type hostedContent struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	SHA      string `json:"sha"`
}

type hostedPutRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
}

type hostedPutResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

type hostedRepo struct {
	Name  string `json:"name"`
	Owner struct {
		Login string `json:"login"`
	} `json:"owner"`
	HTMLURL string `json:"html_url"`
}

type hostedCreateRepoRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Private     bool   `json:"private"`
	AutoInit    bool   `json:"auto_init"`
}

// GetDocument fetches a document and its version token.
func (h *HostedAPI) GetDocument(ctx context.Context, cred Credential, owner, repo, path string) ([]byte, string, error) {
	endpoint := h.contentURL(owner, repo, path)

	body, status, err := h.do(ctx, cred, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", err
	}
	if err := mapStatus(status, "get document"); err != nil {
		return nil, "", err
	}

	var content hostedContent
	if err := json.Unmarshal(body, &content); err != nil {
		return nil, "", fmt.Errorf("parse document response: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(stripNewlines(content.Content))
	if err != nil {
		return nil, "", fmt.Errorf("decode document content: %w", err)
	}
	return raw, content.SHA, nil
}

// PutDocument writes a document revision. A non-empty expectedVersion must
// match the stored blob SHA or the service rejects the write.
func (h *HostedAPI) PutDocument(ctx context.Context, cred Credential, owner, repo, path string, content []byte, expectedVersion, message string) (string, error) {
	endpoint := h.contentURL(owner, repo, path)

	reqBody, err := json.Marshal(hostedPutRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		SHA:     expectedVersion,
	})
	if err != nil {
		return "", fmt.Errorf("encode put request: %w", err)
	}

	body, status, err := h.do(ctx, cred, http.MethodPut, endpoint, reqBody)
	if err != nil {
		return "", err
	}
	// The service answers 409 for a stale SHA and 422 for a missing SHA on an
	// existing file; both mean our view of the revision is out of date.
	if status == http.StatusConflict || status == http.StatusUnprocessableEntity {
		return "", fmt.Errorf("put document %s: %w", path, engine.ErrVersionConflict)
	}
	if err := mapStatus(status, "put document"); err != nil {
		return "", err
	}

	var resp hostedPutResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse put response: %w", err)
	}
	return resp.Content.SHA, nil
}

// GetContainer checks that a user's container exists.
func (h *HostedAPI) GetContainer(ctx context.Context, cred Credential, owner, repo string) (ContainerRef, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s", h.baseURL, url.PathEscape(owner), url.PathEscape(repo))

	body, status, err := h.do(ctx, cred, http.MethodGet, endpoint, nil)
	if err != nil {
		return ContainerRef{}, err
	}
	if err := mapStatus(status, "get container"); err != nil {
		return ContainerRef{}, err
	}

	var repoInfo hostedRepo
	if err := json.Unmarshal(body, &repoInfo); err != nil {
		return ContainerRef{}, fmt.Errorf("parse container response: %w", err)
	}
	return ContainerRef{Owner: repoInfo.Owner.Login, Name: repoInfo.Name, URL: repoInfo.HTMLURL}, nil
}

// CreateContainer provisions a user's container under the authenticated account.
func (h *HostedAPI) CreateContainer(ctx context.Context, cred Credential, owner string, spec ContainerSpec) (ContainerRef, error) {
	endpoint := h.baseURL + "/user/repos"

	reqBody, err := json.Marshal(hostedCreateRepoRequest{
		Name:        spec.Name,
		Description: spec.Description,
		Private:     spec.Private,
		AutoInit:    true,
	})
	if err != nil {
		return ContainerRef{}, fmt.Errorf("encode create request: %w", err)
	}

	body, status, err := h.do(ctx, cred, http.MethodPost, endpoint, reqBody)
	if err != nil {
		return ContainerRef{}, err
	}
	if status != http.StatusCreated {
		if err := mapStatus(status, "create container"); err != nil {
			return ContainerRef{}, err
		}
		return ContainerRef{}, fmt.Errorf("create container: unexpected status %d", status)
	}

	var repoInfo hostedRepo
	if err := json.Unmarshal(body, &repoInfo); err != nil {
		return ContainerRef{}, fmt.Errorf("parse create response: %w", err)
	}
	ref := ContainerRef{Owner: repoInfo.Owner.Login, Name: repoInfo.Name, URL: repoInfo.HTMLURL}
	if ref.Owner == "" {
		ref.Owner = owner
	}
	return ref, nil
}

// do performs one authenticated API round-trip and returns the body and status.
func (h *HostedAPI) do(ctx context.Context, cred Credential, method, endpoint string, reqBody []byte) ([]byte, int, error) {
	if cred.IsZero() {
		return nil, 0, fmt.Errorf("durable store call without credential: %w", engine.ErrUnauthorized)
	}

	var bodyReader io.Reader
	if reqBody != nil {
		bodyReader = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("durable store request failed: %w: %v", engine.ErrUpstreamUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w: %v", engine.ErrUpstreamUnavailable, err)
	}
	return body, resp.StatusCode, nil
}

func (h *HostedAPI) contentURL(owner, repo, path string) string {
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		h.baseURL, url.PathEscape(owner), url.PathEscape(repo), path)
}

// mapStatus converts remaining API statuses onto engine error kinds.
func mapStatus(status int, op string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, engine.ErrNotFound)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%s: %w", op, engine.ErrUnauthorized)
	case status >= 500:
		return fmt.Errorf("%s: status %d: %w", op, status, engine.ErrUpstreamUnavailable)
	default:
		return fmt.Errorf("%s: unexpected status %d", op, status)
	}
}

func stripNewlines(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\n' && s[i] != '\r' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
