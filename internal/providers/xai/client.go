// Package xai talks to the xAI image and video generation endpoints using the
// submit-then-poll protocol and stores the resulting media locally.
package xai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storyreel/internal/domain"
	"storyreel/internal/infra"
	"storyreel/internal/media"
	"storyreel/internal/storage"
)

var (
	// ErrMissingAPIKey indicates that no credentials were configured or stored.
	ErrMissingAPIKey = errors.New("xai: api key is required")
	// ErrTransport covers network failures and non-2xx replies at submission or download.
	ErrTransport = errors.New("xai: transport error")
	// ErrMalformedResponse marks a reply that lacks the expected fields.
	ErrMalformedResponse = errors.New("xai: malformed response")
	// ErrTimeout marks a job that did not reach a terminal state before the poll ceiling.
	ErrTimeout = errors.New("xai: timed out waiting for job")
	// ErrJobFailed marks a job the service reported as failed.
	ErrJobFailed = errors.New("xai: job failed")
)

// Kind selects the generation endpoint and output format.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// KeyFunc resolves an API key at call time, e.g. from the credentials store.
type KeyFunc func(ctx context.Context) (string, error)

// Options configures a Client.
type Options struct {
	Kind            Kind
	APIKey          string
	KeyFunc         KeyFunc
	BaseURL         string
	Model           string
	AspectRatio     string
	Resolution      string
	Store           *storage.FileStore
	HTTPClient      *http.Client
	Logger          *infra.Logger
	PollInterval    time.Duration
	PollTimeout     time.Duration
	SubmitTimeout   time.Duration
	DownloadTimeout time.Duration
}

// Client performs generation calls against one xAI endpoint.
type Client struct {
	kind            Kind
	apiKey          string
	keyFunc         KeyFunc
	endpoint        string
	model           string
	aspectRatio     string
	resolution      string
	store           *storage.FileStore
	httpClient      *http.Client
	logger          infra.Logger
	pollInterval    time.Duration
	pollTimeout     time.Duration
	submitTimeout   time.Duration
	downloadTimeout time.Duration
}

// Request captures the inputs of one generation call.
type Request struct {
	ShotID         int64
	Prompt         string
	ReferenceImage *domain.ImageRef
	// Duration is the requested clip length in whole seconds; video only.
	Duration int
	// Key overrides the storage key derived from ShotID.
	Key string
}

type generationRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
	Resolution     string `json:"resolution,omitempty"`
	Duration       int    `json:"duration,omitempty"`
	ImageURL       string `json:"image_url,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type generationResponse struct {
	ID        string `json:"id"`
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Data      []struct {
		URL string `json:"url"`
	} `json:"data"`
}

func (r generationResponse) firstURL() string {
	if len(r.Data) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Data[0].URL)
}

func (r generationResponse) jobID() string {
	if id := strings.TrimSpace(r.ID); id != "" {
		return id
	}
	return strings.TrimSpace(r.RequestID)
}

// NewClient constructs a client with defaults for the given kind.
func NewClient(opts Options) (*Client, error) {
	if opts.Store == nil {
		return nil, errors.New("xai: file store is required")
	}
	kind := opts.Kind
	if kind == "" {
		kind = KindImage
	}
	if kind != KindImage && kind != KindVideo {
		return nil, fmt.Errorf("xai: unknown kind %q", kind)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.x.ai/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "grok-2-image"
		if kind == KindVideo {
			model = "grok-imagine-video"
		}
	}
	aspect := strings.TrimSpace(opts.AspectRatio)
	if aspect == "" {
		aspect = "9:16"
	}
	resolution := strings.TrimSpace(opts.Resolution)
	if resolution == "" && kind == KindVideo {
		resolution = "720p"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	c := &Client{
		kind:            kind,
		apiKey:          strings.TrimSpace(opts.APIKey),
		keyFunc:         opts.KeyFunc,
		endpoint:        baseURL + "/" + string(kind) + "s/generations",
		model:           model,
		aspectRatio:     aspect,
		resolution:      resolution,
		store:           opts.Store,
		httpClient:      httpClient,
		logger:          infra.LoggerOrNop(opts.Logger).With().Str("provider", "xai").Str("kind", string(kind)).Logger(),
		pollInterval:    durationOr(opts.PollInterval, 5*time.Second),
		pollTimeout:     durationOr(opts.PollTimeout, 300*time.Second),
		submitTimeout:   durationOr(opts.SubmitTimeout, 90*time.Second),
		downloadTimeout: durationOr(opts.DownloadTimeout, 120*time.Second),
	}
	return c, nil
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Generate submits the request, polls when the service answers with a job id,
// downloads the result and returns its storage key. A failed call returns ""
// and an error wrapping one of the package sentinels.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	key, err := c.resolveKey(ctx)
	if err != nil {
		return "", err
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", errors.New("xai: prompt is required")
	}
	log := c.logger.With().Int64("shot_id", req.ShotID).Logger()

	payload := generationRequest{
		Model:       c.model,
		Prompt:      prompt,
		N:           1,
		AspectRatio: c.aspectRatio,
	}
	if c.kind == KindVideo {
		payload.Resolution = c.resolution
		payload.Duration = req.Duration
		if payload.Duration <= 0 {
			payload.Duration = domain.DefaultVideoDuration
		}
	} else {
		payload.ResponseFormat = "url"
	}
	if imageURL, err := c.referenceURL(req.ReferenceImage); err != nil {
		log.Warn().Err(err).Msg("xai: reference image unusable, generating from prompt")
	} else {
		payload.ImageURL = imageURL
	}

	resp, err := c.submit(ctx, key, payload)
	if err != nil {
		log.Error().Err(err).Msg("xai: submission failed")
		return "", err
	}

	resultURL := resp.firstURL()
	if resultURL == "" {
		jobID := resp.jobID()
		if jobID == "" {
			return "", fmt.Errorf("%w: no result url or job id in submission reply", ErrMalformedResponse)
		}
		log.Debug().Str("job_id", jobID).Msg("xai: polling job")
		resultURL, err = c.poll(ctx, key, jobID)
		if err != nil {
			log.Error().Err(err).Str("job_id", jobID).Msg("xai: job did not succeed")
			return "", err
		}
	}

	dest := strings.TrimSpace(req.Key)
	if dest == "" {
		dest = c.storageKey(req.ShotID)
	}
	path, err := c.download(ctx, resultURL, dest)
	if err != nil {
		log.Error().Err(err).Msg("xai: download failed")
		return "", err
	}
	log.Info().Str("path", path).Msg("xai: generation stored")
	return path, nil
}

func (c *Client) resolveKey(ctx context.Context) (string, error) {
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	if c.keyFunc != nil {
		key, err := c.keyFunc(ctx)
		if err != nil {
			return "", fmt.Errorf("xai: resolve api key: %w", err)
		}
		if key = strings.TrimSpace(key); key != "" {
			return key, nil
		}
	}
	return "", ErrMissingAPIKey
}

func (c *Client) referenceURL(ref *domain.ImageRef) (string, error) {
	if ref.IsZero() {
		return "", nil
	}
	if v := strings.TrimSpace(ref.DataURI); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(ref.URL); v != "" {
		return v, nil
	}
	full, err := c.store.Path(ref.StorageKey)
	if err != nil {
		return "", err
	}
	return media.DataURI(full)
}

func (c *Client) storageKey(shotID int64) string {
	if c.kind == KindVideo {
		return fmt.Sprintf("videos/shot_%d.mp4", shotID)
	}
	return fmt.Sprintf("images/shot_%d.png", shotID)
}

func (c *Client) submit(ctx context.Context, key string, payload generationRequest) (generationResponse, error) {
	var decoded generationResponse
	body, err := json.Marshal(payload)
	if err != nil {
		return decoded, fmt.Errorf("xai: encode request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return decoded, fmt.Errorf("xai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)

	raw, err := c.do(httpReq)
	if err != nil {
		return decoded, fmt.Errorf("xai: submit: %w", err)
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return decoded, fmt.Errorf("%w: decode submission reply: %v", ErrMalformedResponse, err)
	}
	return decoded, nil
}

// poll checks the job every pollInterval until a terminal status or the
// ceiling elapses. Transport failures while polling are logged and retried.
func (c *Client) poll(ctx context.Context, key, jobID string) (string, error) {
	statusURL := c.endpoint + "/" + url.PathEscape(jobID)
	for elapsed := time.Duration(0); elapsed < c.pollTimeout; elapsed += c.pollInterval {
		if err := sleep(ctx, c.pollInterval); err != nil {
			return "", fmt.Errorf("xai: poll %s: %w", jobID, err)
		}
		status, err := c.fetchStatus(ctx, key, statusURL)
		if err != nil {
			c.logger.Warn().Err(err).Str("job_id", jobID).Msg("xai: poll error")
			continue
		}
		switch strings.ToLower(status.Status) {
		case "succeeded", "completed":
			resultURL := status.firstURL()
			if resultURL == "" {
				return "", fmt.Errorf("%w: job %s completed without result url", ErrMalformedResponse, jobID)
			}
			return resultURL, nil
		case "failed", "error":
			return "", fmt.Errorf("%w: job %s reported %s", ErrJobFailed, jobID, status.Status)
		}
	}
	return "", fmt.Errorf("%w: job %s after %s", ErrTimeout, jobID, c.pollTimeout)
}

func (c *Client) fetchStatus(ctx context.Context, key, statusURL string) (generationResponse, error) {
	var decoded generationResponse
	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return decoded, err
	}
	req.Header.Set("Authorization", "Bearer "+key)
	raw, err := c.do(req)
	if err != nil {
		return decoded, err
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return decoded, fmt.Errorf("decode status: %w", err)
	}
	return decoded, nil
}

func (c *Client) download(ctx context.Context, resultURL, key string) (string, error) {
	parsed, err := url.Parse(resultURL)
	if err != nil || parsed.Scheme == "" {
		return "", fmt.Errorf("%w: invalid result url %q", ErrMalformedResponse, resultURL)
	}
	ctx, cancel := context.WithTimeout(ctx, c.downloadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", fmt.Errorf("xai: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("xai: download: %w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("xai: download: %w: status %d", ErrTransport, resp.StatusCode)
	}
	path, err := c.store.WriteFrom(ctx, key, resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("xai: download: %w: %w", ErrTransport, err)
		}
		return "", fmt.Errorf("xai: store result: %w", err)
	}
	return path, nil
}

// do executes req and returns the body of a 2xx reply.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrTransport, err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrTransport, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
