// Package engine talks to the downstream audio-processing services. The
// gateway forwards uploads and relays the engines' JSON payloads verbatim;
// it never interprets results beyond extracting the audio duration.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

// Modes accepted by the upload endpoint.
const (
	ModeTranscribe = "transcribe"
	ModeDiarize    = "diarize"
)

// ValidMode reports whether mode names a known engine.
func ValidMode(mode string) bool {
	return mode == ModeTranscribe || mode == ModeDiarize
}

// UpstreamError carries a non-200 engine response. The body is surfaced to
// the caller and recorded with full context for diagnosis.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("engine returned %d: %s", e.Status, e.Body)
}

// Client calls the transcribe and diarize engines over HTTP and WebSocket.
type Client struct {
	transcribeURL string
	diarizeURL    string
	sharedSecret  string
	http          *http.Client
}

// New creates a Client. sharedSecret is forwarded to the engines as the
// x-api-key header; the engines trust the gateway, not end users. Uploads
// can run long, so no client timeout is set; cancellation comes from the
// request context.
func New(transcribeURL, diarizeURL, sharedSecret string) *Client {
	return &Client{
		transcribeURL: transcribeURL,
		diarizeURL:    diarizeURL,
		sharedSecret:  sharedSecret,
		http:          &http.Client{},
	}
}

// URL returns the engine endpoint for a mode.
func (c *Client) URL(mode string) string {
	if mode == ModeDiarize {
		return c.diarizeURL
	}
	return c.transcribeURL
}

// DiarizeWSURL returns the diarize engine's WebSocket endpoint, derived from
// its HTTP address, with the shared secret as a query parameter.
func (c *Client) DiarizeWSURL() string {
	ws := strings.Replace(c.diarizeURL, "http", "ws", 1)
	return ws + "/ws/diarize?api_key=" + c.sharedSecret
}

// Process uploads one file to the engine selected by mode and returns the
// engine's JSON payload verbatim. Non-200 responses become *UpstreamError.
func (c *Client) Process(ctx context.Context, mode, filename string, file io.Reader) (json.RawMessage, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("copy upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(mode), &body)
	if err != nil {
		return nil, fmt.Errorf("build engine request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("x-api-key", c.sharedSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call engine: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read engine response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(payload)}
	}
	return json.RawMessage(payload), nil
}

// AudioDuration extracts the audio length in whole seconds from an engine
// result by taking the maximum segment end time. Returns 0 when the payload
// has no usable segments.
func AudioDuration(result json.RawMessage) int {
	var parsed struct {
		Segments []struct {
			End float64 `json:"end"`
		} `json:"segments"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return 0
	}
	var max float64
	for _, seg := range parsed.Segments {
		if seg.End > max {
			max = seg.End
		}
	}
	return int(max)
}
