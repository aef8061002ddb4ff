// Package ingestion is the client for the document ingestion service.
package ingestion

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/kb-console/internal/errors"
)

// Job states reported by the ingestion service
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Job is the processing state of one document.
type Job struct {
	DocumentID string    `json:"document_id"`
	Status     string    `json:"status"`
	Progress   float64   `json:"progress"` // 0..1
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Done reports whether the job reached a terminal state.
func (j *Job) Done() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Requester performs an authenticated JSON call.
type Requester interface {
	JSON(ctx context.Context, method, url string, in, out any) error
}

type Client struct {
	requester Requester
	baseURL   string
}

func NewClient(requester Requester, baseURL string) *Client {
	return &Client{requester: requester, baseURL: strings.TrimRight(baseURL, "/")}
}

// Sync asks the service to (re)process a document.
func (c *Client) Sync(ctx context.Context, documentID string) (*Job, error) {
	return c.call(ctx, http.MethodPost, documentID, "sync")
}

// Status returns the current job state of a document.
func (c *Client) Status(ctx context.Context, documentID string) (*Job, error) {
	return c.call(ctx, http.MethodGet, documentID, "status")
}

// Retry restarts a failed job.
func (c *Client) Retry(ctx context.Context, documentID string) (*Job, error) {
	return c.call(ctx, http.MethodPost, documentID, "retry")
}

func (c *Client) call(ctx context.Context, method, documentID, action string) (*Job, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, fmt.Errorf("%w: document id is required", apperrors.ErrInvalidRequest)
	}

	endpoint := fmt.Sprintf("%s/documents/%s/%s", c.baseURL, url.PathEscape(documentID), action)
	job := &Job{}
	if err := c.requester.JSON(ctx, method, endpoint, nil, job); err != nil {
		return nil, apperrors.Wrapf(err, "ingestion %s %s", action, documentID)
	}
	if job.DocumentID == "" {
		job.DocumentID = documentID
	}
	return job, nil
}
