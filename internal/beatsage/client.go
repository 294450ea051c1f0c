// Package beatsage implements the HTTP client for the BeatSage custom
// level generation service: one upload endpoint that creates a job, one
// heartbeat endpoint that reports coarse job status, and one download
// endpoint that serves the finished map archive.
package beatsage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"net/url"
	"strings"

	"saberforge/internal/credentials"
)

// DefaultBaseURL is the production endpoint of the generation service.
const DefaultBaseURL = "https://beatsage.com"

const (
	createPath    = "/beatsaber_custom_level_create"
	heartbeatPath = "/beatsaber_custom_level_heartbeat/"
	downloadPath  = "/beatsaber_custom_level_download/"
)

// Status is the coarse job state reported by the heartbeat endpoint. The
// service exposes no progress percentage, only these values.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusDone    Status = "DONE"
	StatusError   Status = "ERROR"
)

// Request carries everything the service needs to generate one custom
// level. It is built once per audio file and never mutated afterwards.
type Request struct {
	Title        string
	Artist       string
	Difficulties string
	Modes        string
	Events       string
	Environment  string
	ModelTag     string
	Audio        []byte
	CoverArt     []byte
}

// JobHandle identifies a submitted generation job together with the URLs
// derived from its id. A handle belongs to the pipeline instance that
// submitted it and is never shared.
type JobHandle struct {
	ID           string
	HeartbeatURL string
	DownloadURL  string
}

// Client drives the generation service. It performs no retries; retry and
// backoff policy belongs to the caller.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the given base URL carrying the session's
// cookies on every request. An empty baseURL selects the production
// service.
func NewClient(baseURL string, session credentials.SessionContext) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("initialise cookie jar: %w", err)
	}
	if len(session.Cookies) > 0 {
		jar.SetCookies(parsed, session.Cookies)
	}

	// No overall client timeout: downloads stream an archive of unknown
	// size, so cancellation is driven by the request context instead.
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Jar: jar},
	}, nil
}

// Submit uploads the audio file and metadata, creating one generation job.
func (c *Client) Submit(ctx context.Context, req Request) (JobHandle, error) {
	body, contentType, err := encodeMultipart(req)
	if err != nil {
		return JobHandle{}, &Error{Kind: KindTransport, Op: "submit", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+createPath, body)
	if err != nil {
		return JobHandle{}, &Error{Kind: KindTransport, Op: "submit", Err: err}
	}
	c.applyHeaders(httpReq)
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return JobHandle{}, &Error{Kind: KindTransport, Op: "submit", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusRequestEntityTooLarge {
		return JobHandle{}, &Error{
			Kind: KindPayloadTooLarge,
			Op:   "submit",
			Err:  errors.New("file size or song length limit exceeded (32MB, 10min for non-Patreon supporters)"),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return JobHandle{}, &Error{
			Kind: KindTransport,
			Op:   "submit",
			Err:  fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return JobHandle{}, &Error{Kind: KindMalformedResponse, Op: "submit", Err: err}
	}
	if created.ID == "" {
		return JobHandle{}, &Error{
			Kind: KindMalformedResponse,
			Op:   "submit",
			Err:  errors.New("response is missing the job id"),
		}
	}

	return JobHandle{
		ID:           created.ID,
		HeartbeatURL: c.baseURL + heartbeatPath + created.ID,
		DownloadURL:  c.baseURL + downloadPath + created.ID,
	}, nil
}

// Poll performs a single status check against a job's heartbeat endpoint.
func (c *Client) Poll(ctx context.Context, handle JobHandle) (Status, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, handle.HeartbeatURL, nil)
	if err != nil {
		return "", &Error{Kind: KindTransport, Op: "poll", Err: err}
	}
	c.applyHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", &Error{Kind: KindTransport, Op: "poll", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{
			Kind: KindTransport,
			Op:   "poll",
			Err:  fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	var heartbeat struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&heartbeat); err != nil {
		return "", &Error{Kind: KindMalformedResponse, Op: "poll", Err: err}
	}
	if heartbeat.Status == "" {
		return "", &Error{
			Kind: KindMalformedResponse,
			Op:   "poll",
			Err:  errors.New("response is missing the status field"),
		}
	}

	switch heartbeat.Status {
	case string(StatusDone):
		return StatusDone, nil
	case string(StatusError):
		return StatusError, nil
	default:
		return StatusPending, nil
	}
}

// Fetch retrieves the completed map archive as a stream. The caller owns
// the returned reader and must close it. The reported size is -1 when the
// service omits a Content-Length header.
func (c *Client) Fetch(ctx context.Context, handle JobHandle) (io.ReadCloser, int64, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, handle.DownloadURL, nil)
	if err != nil {
		return nil, 0, &Error{Kind: KindTransport, Op: "fetch", Err: err}
	}
	c.applyHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, 0, &Error{Kind: KindTransport, Op: "fetch", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, 0, &Error{
			Kind: KindTransport,
			Op:   "fetch",
			Err:  fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	return resp.Body, resp.ContentLength, nil
}

// applyHeaders sets the browser-shaped headers the service expects on
// every request. The values mirror a desktop Chrome session and must stay
// stable for the upload endpoint to accept the request.
func (c *Client) applyHeaders(req *http.Request) {
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Origin", c.baseURL)
	req.Header.Set("Referer", c.baseURL)
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36")
	req.Header.Set("X-Kl-Ajax-Request", "Ajax_Request")
}

// encodeMultipart renders the upload body: the metadata form fields plus
// the audio file part and, when present, the cover art part.
func encodeMultipart(req Request) (io.Reader, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	fields := []struct {
		name  string
		value string
	}{
		{"audio_metadata_title", req.Title},
		{"audio_metadata_artist", req.Artist},
		{"difficulties", req.Difficulties},
		{"modes", req.Modes},
		{"events", req.Events},
		{"environment", req.Environment},
		{"system_tag", req.ModelTag},
	}
	for _, field := range fields {
		if err := writer.WriteField(field.name, field.value); err != nil {
			return nil, "", fmt.Errorf("write form field %s: %w", field.name, err)
		}
	}

	if err := writeFilePart(writer, "audio_file", "audio/mpeg", req.Audio); err != nil {
		return nil, "", err
	}
	if len(req.CoverArt) > 0 {
		if err := writeFilePart(writer, "cover_art", "image/jpeg", req.CoverArt); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("finalise multipart body: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

// writeFilePart adds one file part with an explicit content type. The part
// filename matches the field name, as the service's web client sends it.
func writeFilePart(writer *multipart.Writer, name, contentType string, data []byte) error {
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, name, name))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create %s part: %w", name, err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write %s part: %w", name, err)
	}
	return nil
}
