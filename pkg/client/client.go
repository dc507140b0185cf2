// Package client provides the HTTP client for the content service, with
// retry on reads and bearer-token auth.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fruitsalade/librarian/internal/logging"
	"github.com/fruitsalade/librarian/pkg/models"
	"github.com/fruitsalade/librarian/pkg/protocol"
	"github.com/fruitsalade/librarian/pkg/retry"
)

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to the content service.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config

	mu        sync.RWMutex
	online    bool
	authToken string
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	AuthToken   string
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		online:      true,
		authToken:   cfg.AuthToken,
	}
}

// BaseURL returns the service address the client was created with.
func (c *Client) BaseURL() string { return c.baseURL }

// SetAuthToken sets the JWT auth token for requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authToken
}

// applyAuth adds the auth header to a request if a token is set.
func (c *Client) applyAuth(req *http.Request) {
	if t := c.token(); t != "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}
}

// IsOnline returns true if the last request reached the server.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	changed := c.online != online
	c.online = online
	c.mu.Unlock()
	if !changed {
		return
	}
	if online {
		logging.Info("server is back online", logging.String("url", c.baseURL))
	} else {
		logging.Warn("server is offline", logging.String("url", c.baseURL))
	}
}

// Ping checks if the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.setOnline(false)
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	c.setOnline(true)
	return nil
}

// ─── Listings ───────────────────────────────────────────────────────────────

// ListLibraries returns the top-level containers.
func (c *Client) ListLibraries(ctx context.Context) ([]models.Container, error) {
	var resp protocol.LibrariesResponse
	if err := c.get(ctx, "/api/v1/libraries", &resp); err != nil {
		return nil, err
	}
	return resp.Libraries, nil
}

// ListFolders returns the folder tree of a library.
func (c *Client) ListFolders(ctx context.Context, library models.ContainerID) ([]models.Container, error) {
	if !library.IsLibrary() {
		return nil, fmt.Errorf("list folders: %s is not a library", library)
	}
	var resp protocol.FoldersResponse
	if err := c.get(ctx, "/api/v1/libraries/"+url.PathEscape(library.Key)+"/folders", &resp); err != nil {
		return nil, err
	}
	return resp.Folders, nil
}

// ListItems returns the items filed directly at a location. A zero folder
// lists the library root.
func (c *Client) ListItems(ctx context.Context, library, folder models.ContainerID) (protocol.ItemsResponse, error) {
	if !library.IsLibrary() {
		return protocol.ItemsResponse{}, fmt.Errorf("list items: %s is not a library", library)
	}
	path := "/api/v1/libraries/" + url.PathEscape(library.Key) + "/items"
	if folder.IsFolder() {
		path += "?folder=" + url.QueryEscape(folder.Key)
	}
	var resp protocol.ItemsResponse
	err := c.get(ctx, path, &resp)
	return resp, err
}

// ─── Mutations ──────────────────────────────────────────────────────────────

// SmartMove asks the service to move items to a library root or a folder.
func (c *Client) SmartMove(ctx context.Context, itemIDs []string, dest models.ContainerID) (models.MoveResult, error) {
	var res models.MoveResult
	err := c.post(ctx, "/api/v1/move/smart", protocol.SmartMoveRequest{
		ItemIDs:         itemIDs,
		DestinationID:   dest,
		DestinationType: dest.Kind.String(),
	}, &res)
	return res, err
}

// AddToLibrary gives items a membership at the root of library.
func (c *Client) AddToLibrary(ctx context.Context, itemIDs []string, library models.ContainerID) (models.MoveResult, error) {
	var res models.MoveResult
	err := c.post(ctx, "/api/v1/move/library", protocol.AddToLibraryRequest{
		ItemIDs:   itemIDs,
		LibraryID: library,
	}, &res)
	return res, err
}

// MoveToFolder files items already in library into folder.
func (c *Client) MoveToFolder(ctx context.Context, itemIDs []string, folder, library models.ContainerID) (models.MoveResult, error) {
	var res models.MoveResult
	err := c.post(ctx, "/api/v1/move/folder", protocol.MoveToFolderRequest{
		ItemIDs:   itemIDs,
		FolderID:  folder,
		LibraryID: library,
	}, &res)
	return res, err
}

// DeleteItems removes items and their content.
func (c *Client) DeleteItems(ctx context.Context, itemIDs []string) (models.DeleteResult, error) {
	var res models.DeleteResult
	err := c.post(ctx, "/api/v1/items/delete", protocol.DeleteItemsRequest{ItemIDs: itemIDs}, &res)
	return res, err
}

// CreateFolder creates a folder in library, under parent when it is set.
func (c *Client) CreateFolder(ctx context.Context, name string, library, parent models.ContainerID) (models.Container, error) {
	var folder models.Container
	err := c.post(ctx, "/api/v1/folders", protocol.CreateFolderRequest{
		Name:           name,
		LibraryID:      library,
		ParentFolderID: parent,
	}, &folder)
	return folder, err
}

// CreateLibrary creates a top-level container.
func (c *Client) CreateLibrary(ctx context.Context, name string) (models.Container, error) {
	var lib models.Container
	err := c.post(ctx, "/api/v1/libraries", protocol.CreateLibraryRequest{Name: name}, &lib)
	return lib, err
}

// ─── Content ────────────────────────────────────────────────────────────────

// Upload stores body as a new item named name in library, or in folder when set.
func (c *Client) Upload(ctx context.Context, library, folder models.ContainerID, name string, body io.Reader, size int64) (models.LeafItem, error) {
	q := url.Values{"name": {name}}
	if folder.IsFolder() {
		q.Set("folder", folder.Key)
	}
	path := "/api/v1/libraries/" + url.PathEscape(library.Key) + "/items?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, body)
	if err != nil {
		return models.LeafItem{}, err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	var resp protocol.UploadResponse
	if err := c.do(req, &resp); err != nil {
		return models.LeafItem{}, fmt.Errorf("upload %s: %w", name, err)
	}
	return resp.Item, nil
}

// Content fetches an item's content. The caller closes the reader.
func (c *Client) Content(ctx context.Context, itemID string) (io.ReadCloser, int64, error) {
	res, err := retry.DoWithResult(ctx, c.retryConfig, func() (contentResult, error) {
		req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/items/"+url.PathEscape(itemID)+"/content", nil)
		if err != nil {
			return contentResult{}, err
		}
		c.applyAuth(req)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.setOnline(false)
			return contentResult{}, retry.Retryable(err)
		}
		c.setOnline(true)
		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			return contentResult{}, classify(resp)
		}
		size, _ := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
		return contentResult{resp.Body, size}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return res.body, res.size, nil
}

type contentResult struct {
	body io.ReadCloser
	size int64
}

// ─── Transport ──────────────────────────────────────────────────────────────

// get decodes a JSON response, retrying transport errors and 5xx responses.
func (c *Client) get(ctx context.Context, path string, out any) error {
	return retry.Do(ctx, c.retryConfig, func() error {
		req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
		if err != nil {
			return err
		}
		return c.do(req, out)
	})
}

// post sends a JSON body once. Mutations are not retried.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return retry.Do(ctx, retry.Once(), func() error {
		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		return c.do(req, out)
	})
}

func (c *Client) do(req *http.Request, out any) error {
	c.applyAuth(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return retry.Retryable(err)
	}
	defer resp.Body.Close()
	c.setOnline(true)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classify(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// classify turns a non-2xx response into an *APIError, retryable for 5xx.
func classify(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body protocol.ErrorResponse
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	if resp.StatusCode >= 500 {
		return retry.Retryable(apiErr)
	}
	return apiErr
}
