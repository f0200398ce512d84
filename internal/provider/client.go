package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rankmon/rankmon/internal/metrics"
)

// Config controls client behavior.
type Config struct {
	BaseURL string
	UserID  string
	APIKey  string
	// RPS/Burst size the process-wide token bucket shared by every caller.
	RPS     float64
	Burst   int
	Timeout time.Duration
	Retry   RetryPolicy
}

// Client posts JSON requests to the provider under a process-wide rate limit,
// retrying transport failures per the configured policy. It is stateless
// across calls and safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(r, burst),
		logger:  logger,
	}
}

// post sends one rate-limited JSON request and returns the result payload.
// Transport failures and throttling responses are retried; a well-formed
// errors[] payload is returned as an *APIError without retrying.
func (c *Client) post(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		result, err := c.doOnce(ctx, path, body)
		if err == nil {
			metrics.ObserveProviderRequest(path, "ok")
			return result, nil
		}
		lastErr = err
		if !c.cfg.Retry.ShouldRetry(err, attempt) {
			break
		}
		c.logger.Warn("provider request failed, retrying",
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		metrics.ObserveProviderRequest(path, "retry")
		if serr := sleep(ctx, c.cfg.Retry.Backoff(attempt)); serr != nil {
			return nil, fmt.Errorf("retry wait: %w", serr)
		}
	}
	metrics.ObserveProviderRequest(path, "error")
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, path string, body []byte) (json.RawMessage, error) {
	waitStart := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(waitStart); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(d)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Id", c.cfg.UserID)
	req.Header.Set("Authorization", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("post %s: status %d", path, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(env.Errors) > 0 {
		apiErr := env.Errors[0]
		return nil, &apiErr
	}
	return env.Result, nil
}

// GetProject reads project metadata for one provider project id.
func (c *Client) GetProject(ctx context.Context, projectID int64) (ProjectInfo, error) {
	payload := map[string]any{
		"filters": []map[string]any{{
			"name":     "id",
			"operator": "EQUALS",
			"values":   []string{strconv.FormatInt(projectID, 10)},
		}},
	}
	raw, err := c.post(ctx, "/get/projects_2/projects", payload)
	if err != nil {
		return ProjectInfo{}, err
	}
	var infos []ProjectInfo
	if err := json.Unmarshal(raw, &infos); err != nil {
		return ProjectInfo{}, fmt.Errorf("decode project info: %w", err)
	}
	if len(infos) == 0 {
		return ProjectInfo{}, fmt.Errorf("provider project %d not found", projectID)
	}
	return infos[0], nil
}

// AddSearcher registers a search engine on a provider project. The call is
// idempotent on the provider side.
func (c *Client) AddSearcher(ctx context.Context, projectID int64, searcherKey int) error {
	_, err := c.post(ctx, "/add/positions_2/searchers", map[string]any{
		"project_id":   projectID,
		"searcher_key": searcherKey,
	})
	return err
}

// AddSearcherRegion registers a region for a search engine on a provider
// project. Idempotent on the provider side.
func (c *Client) AddSearcherRegion(ctx context.Context, projectID int64, searcherKey, regionKey int) error {
	_, err := c.post(ctx, "/add/positions_2/searchers_regions", map[string]any{
		"project_id":   projectID,
		"searcher_key": searcherKey,
		"region_key":   regionKey,
	})
	return err
}

// StartCheck triggers the provider's asynchronous ranking-check job.
func (c *Client) StartCheck(ctx context.Context, projectID int64) error {
	_, err := c.post(ctx, "/positions_2/checker/go", map[string]any{
		"project_id": projectID,
	})
	return err
}

// History fetches ranking results for one project/region/date slice.
func (c *Client) History(
	ctx context.Context,
	projectID int64,
	regionIndex int,
	searcherKey int,
	date string,
) (ResultBatch, error) {
	payload := map[string]any{
		"project_id":     projectID,
		"region_indexes": []int{regionIndex},
		"searcher_keys":  []int{searcherKey},
		"dates":          []string{date},
	}
	raw, err := c.post(ctx, "/get/positions_2/history", payload)
	if err != nil {
		return nil, err
	}
	var result struct {
		Keywords ResultBatch `json:"keywords"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return result.Keywords, nil
}

// KeywordVolumes fetches per-keyword search volume and returns a map keyed by
// lower-cased keyword text. Entries without a volume field are skipped; the
// provider omits it for regions it has not collected yet.
func (c *Client) KeywordVolumes(
	ctx context.Context,
	projectID int64,
	regionKey int,
	searcherKey int,
) (map[string]int, error) {
	volumeField := fmt.Sprintf("volume:%d:%d:%d", regionKey, searcherKey, 1)
	payload := map[string]any{
		"project_id": projectID,
		"fields":     []string{"name", volumeField},
	}
	raw, err := c.post(ctx, "/get/keywords_2/keywords/", payload)
	if err != nil {
		return nil, err
	}
	var rows []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode volumes: %w", err)
	}
	volumes := make(map[string]int, len(rows))
	for _, row := range rows {
		var name string
		if err := json.Unmarshal(row["name"], &name); err != nil || name == "" {
			continue
		}
		rawVolume, ok := row[volumeField]
		if !ok {
			continue
		}
		volume, ok := parseVolume(rawVolume)
		if !ok {
			continue
		}
		volumes[strings.ToLower(name)] = volume
	}
	return volumes, nil
}

// parseVolume accepts the number-or-numeric-string encodings the provider
// uses interchangeably.
func parseVolume(raw json.RawMessage) (int, bool) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, convErr := strconv.Atoi(s); convErr == nil {
			return v, true
		}
	}
	return 0, false
}
