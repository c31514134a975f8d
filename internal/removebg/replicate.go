package removebg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const defaultReplicateURL = "https://api.replicate.com"

var errPredictionRunning = errors.New("prediction still running")

// Replicate runs a background-removal model on Replicate.
type Replicate struct {
	baseURL  string
	token    string
	model    string
	interval time.Duration
	maxPolls int
	client   *http.Client
}

// NewReplicate creates a Replicate client.
func NewReplicate(cfg Config, client *http.Client) *Replicate {
	r := &Replicate{
		baseURL:  strings.TrimSuffix(cfg.ReplicateURL, "/"),
		token:    cfg.ReplicateToken,
		model:    cfg.ReplicateModel,
		interval: cfg.PollInterval,
		maxPolls: cfg.MaxPolls,
		client:   client,
	}
	if r.baseURL == "" {
		r.baseURL = defaultReplicateURL
	}
	if r.model == "" {
		r.model = "cjwbw/rembg"
	}
	if r.interval <= 0 {
		r.interval = 1200 * time.Millisecond
	}
	if r.maxPolls <= 0 {
		r.maxPolls = 50
	}
	return r
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Error  any             `json:"error"`
	Output json.RawMessage `json:"output"`
}

func (p *prediction) running() bool {
	return p.Status == "starting" || p.Status == "processing"
}

// Remove uploads the image, starts a prediction, polls it to completion and
// downloads the output.
func (r *Replicate) Remove(ctx context.Context, image []byte, filename string) (*Output, error) {
	if r.token == "" {
		return nil, errors.New("REPLICATE_API_TOKEN not set")
	}

	fileURL, err := r.upload(ctx, image, filename)
	if err != nil {
		return nil, err
	}
	pred, err := r.create(ctx, fileURL)
	if err != nil {
		return nil, err
	}
	if pred.running() {
		if pred, err = r.wait(ctx, pred.ID); err != nil {
			return nil, err
		}
	}
	if pred.Status != "succeeded" {
		return nil, fmt.Errorf("replicate failed: %s %v", pred.Status, errString(pred.Error))
	}

	outURL, err := outputURL(pred.Output)
	if err != nil {
		return nil, err
	}
	data, err := r.fetch(ctx, outURL)
	if err != nil {
		return nil, err
	}
	return &Output{Data: data, Backend: BackendReplicate}, nil
}

func (r *Replicate) upload(ctx context.Context, image []byte, filename string) (string, error) {
	body, contentType, err := fileBody(image, filename)
	if err != nil {
		return "", fmt.Errorf("build replicate upload: %w", err)
	}
	var file struct {
		URL  string `json:"url"`
		URLs struct {
			Get string `json:"get"`
		} `json:"urls"`
	}
	if err := r.do(ctx, http.MethodPost, "/v1/files", contentType, body, &file); err != nil {
		return "", fmt.Errorf("replicate upload failed: %w", err)
	}
	if file.URL != "" {
		return file.URL, nil
	}
	if file.URLs.Get != "" {
		return file.URLs.Get, nil
	}
	return "", errors.New("replicate upload returned no url")
}

func (r *Replicate) create(ctx context.Context, fileURL string) (*prediction, error) {
	payload, err := json.Marshal(map[string]any{
		"model": r.model,
		"input": map[string]string{"image": fileURL},
	})
	if err != nil {
		return nil, err
	}
	var pred prediction
	if err := r.do(ctx, http.MethodPost, "/v1/predictions", "application/json", bytes.NewReader(payload), &pred); err != nil {
		return nil, fmt.Errorf("replicate prediction failed: %w", err)
	}
	return &pred, nil
}

// wait polls the prediction at a fixed interval until it leaves the running
// states, giving up after maxPolls polls.
func (r *Replicate) wait(ctx context.Context, id string) (*prediction, error) {
	logger := zerolog.Ctx(ctx)
	var pred prediction
	polls := 0

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(r.interval), uint64(r.maxPolls)), ctx)
	op := func() error {
		polls++
		pred = prediction{}
		if err := r.do(ctx, http.MethodGet, "/v1/predictions/"+id, "", nil, &pred); err != nil {
			return backoff.Permanent(fmt.Errorf("replicate poll failed: %w", err))
		}
		if pred.running() {
			return errPredictionRunning
		}
		return nil
	}

	// the first attempt runs at once; space it like the rest
	timer := time.NewTimer(r.interval)
	select {
	case <-ctx.Done():
		timer.Stop()
		return nil, ctx.Err()
	case <-timer.C:
	}

	err := backoff.Retry(op, b)
	logger.Debug().Str("prediction", id).Int("polls", polls).Str("status", pred.Status).Msg("replicate poll finished")
	if errors.Is(err, errPredictionRunning) {
		return nil, errors.New("replicate timeout")
	}
	if err != nil {
		return nil, err
	}
	return &pred, nil
}

func (r *Replicate) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build output request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch output failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch output failed %d", resp.StatusCode)
	}
	return readBody(resp)
}

func (r *Replicate) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%d: %s", resp.StatusCode, errorText(resp))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// outputURL accepts a single URL or a list whose first entry is the URL.
func outputURL(raw json.RawMessage) (string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0], nil
	}
	return "", errors.New("replicate returned no output")
}

func errString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
