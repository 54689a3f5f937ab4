// Package infermedica provides a client for the Infermedica v3 API:
// symptom search, probabilistic diagnosis, and triage.
package infermedica

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/oliviagallego/TesaHealth/internal/resilience"
)

const (
	defaultBaseURL   = "https://api.infermedica.com/v3"
	maxRetryAttempts = 3
)

// Client performs diagnostic engine calls against the Infermedica API.
type Client interface {
	// Search looks up symptom concepts matching a free-text phrase.
	Search(ctx context.Context, req SearchRequest) ([]SearchResult, error)

	// Diagnose submits accumulated evidence and returns ranked conditions
	// plus the next interview question.
	Diagnose(ctx context.Context, req DiagnosisRequest) (*DiagnosisResponse, error)

	// Triage submits accumulated evidence and returns a recommended
	// level of medical attention.
	Triage(ctx context.Context, req DiagnosisRequest) (*TriageResponse, error)
}

// Evidence is a single observation reported against a symptom concept.
type Evidence struct {
	ID       string `json:"id"`
	ChoiceID string `json:"choice_id"`
	Source   string `json:"source,omitempty"`
}

// Age wraps the patient age the way the API expects it.
type Age struct {
	Value int `json:"value"`
}

// DiagnosisRequest is the shared request body for /diagnosis and /triage.
type DiagnosisRequest struct {
	Sex         string     `json:"sex"`
	Age         Age        `json:"age"`
	Evidence    []Evidence `json:"evidence"`
	InterviewID string     `json:"-"`
}

// QuestionItem is one selectable item within an interview question.
type QuestionItem struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Choices []Choice `json:"choices,omitempty"`
}

// Choice is a possible answer for a question item.
type Choice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Question is the next question the engine wants answered.
type Question struct {
	Type  string         `json:"type"`
	Text  string         `json:"text"`
	Items []QuestionItem `json:"items"`
}

// Condition is a ranked differential entry.
type Condition struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	CommonName  string  `json:"common_name"`
	Probability float64 `json:"probability"`
}

// DiagnosisResponse is the response from POST /diagnosis.
type DiagnosisResponse struct {
	Question             *Question   `json:"question"`
	Conditions           []Condition `json:"conditions"`
	ShouldStop           bool        `json:"should_stop"`
	HasEmergencyEvidence bool        `json:"has_emergency_evidence"`
}

// TriageResponse is the response from POST /triage. TriageLevel is one of
// emergency_ambulance, emergency, consultation_24, consultation, self_care.
type TriageResponse struct {
	TriageLevel string      `json:"triage_level"`
	Serious     []Condition `json:"serious"`
	RootCause   string      `json:"root_cause,omitempty"`
}

// SearchRequest holds parameters for GET /search.
type SearchRequest struct {
	Phrase      string
	Age         int
	Sex         string
	InterviewID string
}

// SearchResult is one symptom concept matching a search phrase.
type SearchResult struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets the requests-per-second limit for API calls.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
	}
}

// WithDevMode marks all interviews as development traffic.
func WithDevMode() Option {
	return func(c *httpClient) {
		c.devMode = true
	}
}

type httpClient struct {
	appID   string
	appKey  string
	baseURL string
	devMode bool
	limiter *rate.Limiter
	http    *http.Client
}

// NewClient creates an Infermedica API client.
func NewClient(appID, appKey string, opts ...Option) Client {
	c := &httpClient{
		appID:   appID,
		appKey:  appKey,
		baseURL: defaultBaseURL,
		limiter: rate.NewLimiter(10, 10),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) setHeaders(req *http.Request, interviewID string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("App-Id", c.appID)
	req.Header.Set("App-Key", c.appKey)
	if interviewID != "" {
		req.Header.Set("Interview-Id", interviewID)
	}
	if c.devMode {
		req.Header.Set("Dev-Mode", "true")
	}
}

// do sends the request, retrying transient failures with exponential backoff.
// build runs once per attempt so each retry gets a fresh request body.
func (c *httpClient) do(ctx context.Context, op string, build func() (*http.Request, error)) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "infermedica: rate limit wait")
	}

	cfg := resilience.RetryConfig{
		MaxAttempts: maxRetryAttempts,
		OnRetry:     resilience.RetryLogger("infermedica", op),
	}
	return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		req, err := build()
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "infermedica: send request"), 0)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "infermedica: read response"), 0)
		}

		if resp.StatusCode != http.StatusOK {
			apiErr := eris.Errorf("infermedica: unexpected status %d: %s", resp.StatusCode, string(body))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
			}
			return nil, apiErr
		}
		return body, nil
	})
}

func (c *httpClient) post(ctx context.Context, path, interviewID string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrapf(err, "infermedica: marshal %s request", path)
	}

	respBody, err := c.do(ctx, path, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, eris.Wrapf(err, "infermedica: create %s request", path)
		}
		c.setHeaders(req, interviewID)
		return req, nil
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrapf(err, "infermedica: unmarshal %s response", path)
	}
	return nil
}

func (c *httpClient) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	q := url.Values{}
	q.Set("phrase", req.Phrase)
	q.Set("age.value", strconv.Itoa(req.Age))
	q.Set("sex", req.Sex)
	q.Set("types", "symptom")

	respBody, err := c.do(ctx, "/search", func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
		if err != nil {
			return nil, eris.Wrap(err, "infermedica: create search request")
		}
		c.setHeaders(httpReq, req.InterviewID)
		return httpReq, nil
	})
	if err != nil {
		return nil, err
	}

	var results []SearchResult
	if err := json.Unmarshal(respBody, &results); err != nil {
		return nil, eris.Wrap(err, "infermedica: unmarshal search response")
	}
	return results, nil
}

func (c *httpClient) Diagnose(ctx context.Context, req DiagnosisRequest) (*DiagnosisResponse, error) {
	var out DiagnosisResponse
	if err := c.post(ctx, "/diagnosis", req.InterviewID, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) Triage(ctx context.Context, req DiagnosisRequest) (*TriageResponse, error) {
	var out TriageResponse
	if err := c.post(ctx, "/triage", req.InterviewID, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
