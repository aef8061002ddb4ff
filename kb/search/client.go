// Package search is the client for the semantic search service.
package search

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"

	apperrors "github.com/jrsteele09/kb-console/internal/errors"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Query is a semantic search request.
type Query struct {
	Query            string   `json:"query"`
	KnowledgeBaseIDs []string `json:"knowledge_base_ids,omitempty"`
	Limit            int      `json:"limit"`
	Threshold        float64  `json:"threshold"` // Minimum similarity, 0..1
}

// Metadata locates a result chunk in its source document.
type Metadata struct {
	DocumentID      string `json:"document_id"`
	KnowledgeBaseID string `json:"knowledge_base_id"`
	Page            int    `json:"page,omitempty"`
	FileName        string `json:"file_name,omitempty"`
}

// Result is one ranked content chunk.
type Result struct {
	Content    string   `json:"content"`
	Similarity float64  `json:"similarity"`
	Metadata   Metadata `json:"metadata"`
}

type response struct {
	Results []Result `json:"results"`
}

// Requester performs an authenticated JSON call.
type Requester interface {
	JSON(ctx context.Context, method, url string, in, out any) error
}

type Client struct {
	requester Requester
	url       string
}

func NewClient(requester Requester, baseURL string) *Client {
	return &Client{requester: requester, url: strings.TrimRight(baseURL, "/") + "/search"}
}

// Normalize applies defaults and validates q.
func (q Query) Normalize() (Query, error) {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return q, fmt.Errorf("%w: query is required", apperrors.ErrInvalidRequest)
	}
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit < 0 || q.Limit > MaxLimit {
		return q, fmt.Errorf("%w: limit must be between 1 and %d", apperrors.ErrInvalidRequest, MaxLimit)
	}
	if math.IsNaN(q.Threshold) || q.Threshold < 0 || q.Threshold > 1 {
		return q, fmt.Errorf("%w: threshold must be between 0 and 1", apperrors.ErrInvalidRequest)
	}
	return q, nil
}

// Search returns results ordered by descending similarity.
func (c *Client) Search(ctx context.Context, q Query) ([]Result, error) {
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}

	var resp response
	if err := c.requester.JSON(ctx, http.MethodPost, c.url, q, &resp); err != nil {
		return nil, apperrors.Wrapf(err, "search")
	}

	results := resp.Results
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	if results == nil {
		results = []Result{}
	}
	return results, nil
}
