// Package editor talks to the external image-edit API.
package editor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/aliskhannn/pixmix-relay/internal/config"
)

// ErrNoImageData means the API answered without b64_json or url.
var ErrNoImageData = errors.New("no image data returned")

const maxResponseBytes = 64 << 20

// EditRequest is one image-edit call.
type EditRequest struct {
	Image       io.Reader
	Filename    string
	ContentType string // defaults to image/png
	Prompt      string
	Model       string
}

// ImageData is one generated image in the API response.
type ImageData struct {
	B64JSON string `json:"b64_json,omitempty"`
	URL     string `json:"url,omitempty"`
}

// EditResponse is the decoded body of a successful edit call.
type EditResponse struct {
	Created int64       `json:"created"`
	Data    []ImageData `json:"data"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// APIError is a non-2xx answer from the edit API.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("image edit API %d (%s): %s", e.StatusCode, e.Type, e.Message)
}

type httpRequestFunc func(req *http.Request) (*http.Response, error)

// Client calls <base_url>/images/edits.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	makeRequest httpRequestFunc
	limiter     *semaphore.Weighted
}

// New creates a Client from configuration. MaxConcurrent <= 0 leaves calls unbounded.
func New(cfg config.Editor) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		makeRequest: httpClient.Do,
	}
	if cfg.MaxConcurrent > 0 {
		c.limiter = semaphore.NewWeighted(cfg.MaxConcurrent)
	}

	return c
}

// Edit uploads the image with the prompt and returns the decoded response.
func (c *Client) Edit(ctx context.Context, req EditRequest) (EditResponse, error) {
	if req.Image == nil {
		return EditResponse{}, errors.New("edit: image is required")
	}
	if req.Model == "" {
		req.Model = c.model
	}

	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx, 1); err != nil {
			return EditResponse{}, fmt.Errorf("edit: wait for slot: %w", err)
		}
		defer c.limiter.Release(1)
	}

	body, contentType, err := encodeForm(req)
	if err != nil {
		return EditResponse{}, fmt.Errorf("edit: build form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/edits", body)
	if err != nil {
		return EditResponse{}, fmt.Errorf("edit: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.makeRequest(httpReq)
	if err != nil {
		return EditResponse{}, fmt.Errorf("edit: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return EditResponse{}, parseErrorResponse(resp)
	}

	var out EditResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return EditResponse{}, fmt.Errorf("edit: decode response: %w", err)
	}

	return out, nil
}

// ExtractImageURL picks the first image of the response. Inline base64 wins over a
// hosted URL and is wrapped in a PNG data URI.
func ExtractImageURL(resp EditResponse) (string, error) {
	if len(resp.Data) == 0 {
		return "", ErrNoImageData
	}

	first := resp.Data[0]
	switch {
	case first.B64JSON != "":
		return "data:image/png;base64," + first.B64JSON, nil
	case first.URL != "":
		return first.URL, nil
	default:
		return "", ErrNoImageData
	}
}

func encodeForm(req EditRequest) (*bytes.Buffer, string, error) {
	buf := new(bytes.Buffer)
	w := multipart.NewWriter(buf)

	if err := w.WriteField("model", req.Model); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("prompt", req.Prompt); err != nil {
		return nil, "", err
	}

	filename := req.Filename
	if filename == "" {
		filename = "image.png"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, escapeQuotes(filename)))
	contentType := req.ContentType
	if contentType == "" {
		contentType = "image/png"
	}
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, req.Image); err != nil {
		return nil, "", fmt.Errorf("copy image: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func parseErrorResponse(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp apiErrorResponse
	if json.Unmarshal(bodyBytes, &errResp) == nil && errResp.Error.Message != "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Type:       errResp.Error.Type,
			Message:    errResp.Error.Message,
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Type:       "unknown",
		Message:    strings.TrimSpace(string(bodyBytes)),
	}
}
