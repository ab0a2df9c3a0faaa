// Package searchidx provides a best-effort document indexer speaking the
// OpenSearch-compatible REST API. Indexing failures never fail a run;
// callers log the returned error and move on.
package searchidx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/caseprobe/discovery-cli/internal/resilience"
)

// Document is the search projection of a processed email.
type Document struct {
	ID             string     `json:"id"`
	RunID          string     `json:"run_id"`
	Project        string     `json:"project"`
	FolderPath     string     `json:"folder_path"`
	Subject        string     `json:"subject"`
	SenderEmail    string     `json:"sender_email"`
	SenderName     string     `json:"sender_name"`
	ToRecipients   []string   `json:"to_recipients"`
	DateSent       *time.Time `json:"date_sent,omitempty"`
	BodyPreview    string     `json:"body_preview"`
	HasAttachments bool       `json:"has_attachments"`
	ThreadGroupID  string     `json:"thread_group_id,omitempty"`
	IsDuplicate    bool       `json:"is_duplicate"`
}

// Indexer defines the search indexing operations.
type Indexer interface {
	// Index upserts a document by id.
	Index(ctx context.Context, doc Document) error
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetryConfig overrides the retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	baseURL string
	index   string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates an indexer for one index on an OpenSearch-compatible
// endpoint.
func NewClient(baseURL, index string, opts ...Option) Indexer {
	c := &httpClient{
		baseURL: baseURL,
		index:   index,
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Index(ctx context.Context, doc Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return eris.Wrap(err, "searchidx: marshal document")
	}

	url := fmt.Sprintf("%s/%s/_doc/%s", c.baseURL, c.index, doc.ID)

	return resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
		if err != nil {
			return eris.Wrap(err, "searchidx: create request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return resilience.NewTransientError(eris.Wrap(err, "searchidx: index request"), 0)
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		indexErr := eris.Errorf("searchidx: status %d: %s", resp.StatusCode, string(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(indexErr, resp.StatusCode)
		}
		return indexErr
	})
}

// Noop is an Indexer that does nothing, used when search is disabled.
type Noop struct{}

func (Noop) Index(ctx context.Context, doc Document) error { return nil }
