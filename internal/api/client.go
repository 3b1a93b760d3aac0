// internal/api/client.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/geodiary/mapcore/internal/model"
	"github.com/geodiary/mapcore/internal/model/core"
)

// DefaultTimeout bounds every request made by the client.
const DefaultTimeout = 30 * time.Second

var (
	// ErrNoToken is returned when a call needs a bearer token and none is set.
	ErrNoToken = errors.New("not authenticated")
	// ErrNoMarkers is the backend's final answer for a user without markers.
	ErrNoMarkers = errors.New("no markers for this user")
	// ErrUnauthorizedEmail is returned by ValidateToken when the token is
	// genuine but its account is not allowed to use the backend.
	ErrUnauthorizedEmail = errors.New("unauthorized email")
)

const (
	noMarkersBody         = "No markers for this user"
	unauthorizedEmailBody = "Unauthorized email"
)

// Client handles communication with the marker backend.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// New creates a new API client.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// SetTimeout replaces the per-request timeout.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.httpClient.Timeout = d
	}
}

// SetToken installs the bearer token of the signed-in user. An empty token
// signs out.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// ValidateToken asks the backend whether the current token is still accepted.
// A refused account is reported as ErrUnauthorizedEmail.
func (c *Client) ValidateToken(ctx context.Context) (bool, error) {
	resp, err := c.do(ctx, http.MethodPost, "/validateToken", nil, "application/json")
	if err != nil {
		if errors.Is(err, ErrNoToken) {
			return false, nil
		}
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if strings.Contains(string(body), unauthorizedEmailBody) {
			return false, ErrUnauthorizedEmail
		}
	}
	return resp.StatusCode == http.StatusOK, nil
}

// CreateMarker posts a new marker and returns the id assigned by the backend.
func (c *Client) CreateMarker(ctx context.Context, req model.NewMarkerRequest) (int64, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("failed to encode marker: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/markers/user", bytes.NewReader(body), "application/json")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "create marker"); err != nil {
		return 0, err
	}

	var id int64
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return 0, fmt.Errorf("%w: failed to decode marker id: %v", core.ErrNetwork, err)
	}
	if id <= 0 {
		return 0, fmt.Errorf("%w: backend returned invalid marker id %d", core.ErrNetwork, id)
	}
	return id, nil
}

// ListMarkers returns the markers visible to the signed-in user.
// ErrNoMarkers is returned when the backend reports that the user has none.
func (c *Client) ListMarkers(ctx context.Context) ([]model.RemoteMarker, error) {
	resp, err := c.do(ctx, http.MethodGet, "/markers/user", nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if strings.Contains(string(b), noMarkersBody) {
			return nil, ErrNoMarkers
		}
		return nil, fmt.Errorf("%w: list markers returned status %d", core.ErrNetwork, resp.StatusCode)
	}

	var markers []model.RemoteMarker
	if err := json.NewDecoder(resp.Body).Decode(&markers); err != nil {
		return nil, fmt.Errorf("%w: failed to decode markers: %v", core.ErrNetwork, err)
	}
	return markers, nil
}

// UpdateTitle patches the title of a persisted marker.
func (c *Client) UpdateTitle(ctx context.Context, id int64, title string) error {
	return c.patch(ctx, id, "title", title)
}

// UpdateDescription patches the description of a persisted marker.
func (c *Client) UpdateDescription(ctx context.Context, id int64, description string) error {
	return c.patch(ctx, id, "description", description)
}

// UpdateCategory patches the category of a persisted marker.
func (c *Client) UpdateCategory(ctx context.Context, id int64, category string) error {
	return c.patch(ctx, id, "category", category)
}

// UpdateVisibility patches the public flag of a persisted marker.
func (c *Client) UpdateVisibility(ctx context.Context, id int64, public bool) error {
	return c.patch(ctx, id, "isPublic", strconv.FormatBool(public))
}

func (c *Client) patch(ctx context.Context, id int64, field, value string) error {
	path := fmt.Sprintf("/markers/user/%d/%s?%s=%s", id, field, field, url.QueryEscape(value))
	resp, err := c.do(ctx, http.MethodPatch, path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, "update "+field)
}

// DeleteMarker removes a persisted marker.
func (c *Client) DeleteMarker(ctx context.Context, id int64) error {
	resp, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/markers/user/%d", id), nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, "delete marker")
}

// UploadImage attaches an image to a persisted marker and returns its URL.
func (c *Client) UploadImage(ctx context.Context, id int64, img core.LocalImage) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("image", img.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(img.Data); err != nil {
		return "", fmt.Errorf("failed to copy image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finish form: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/markers/%d/images", id), &buf, writer.FormDataContentType())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "upload image"); err != nil {
		return "", err
	}

	var out struct {
		ImageURL string `json:"imageUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: failed to decode upload response: %v", core.ErrNetwork, err)
	}
	if out.ImageURL == "" {
		return "", fmt.Errorf("%w: upload response has no image url", core.ErrNetwork)
	}
	return out.ImageURL, nil
}

// DeleteImage removes a persisted image by URL.
func (c *Client) DeleteImage(ctx context.Context, imageURL string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/markers/images?imageUrl="+url.QueryEscape(imageURL), nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, "delete image")
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	token := c.Token()
	if token == "" {
		return nil, ErrNoToken
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", core.ErrNetwork, method, path, err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("%w: %s returned status %d", core.ErrNetwork, op, resp.StatusCode)
}
