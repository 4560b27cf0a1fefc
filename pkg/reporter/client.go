// Package reporter is a minimal NIH RePORTER v2 client used to look up
// project metadata for NIH awards.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/awardsync/internal/enrich"
	"github.com/sells-group/awardsync/internal/model"
	"github.com/sells-group/awardsync/internal/resilience"
)

const defaultBaseURL = "https://api.reporter.nih.gov"

// Client looks up NIH project metadata by award key.
type Client interface {
	Lookup(ctx context.Context, key string) (*model.ExternalMetadata, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a RePORTER API client. The API is unauthenticated.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
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

// searchRequest is the body for POST /v2/projects/search.
type searchRequest struct {
	Criteria criteria `json:"criteria"`
	Limit    int      `json:"limit"`
}

type criteria struct {
	ProjectNums []string `json:"project_nums,omitempty"`
	OrgNames    []string `json:"org_names,omitempty"`
}

type searchResponse struct {
	Results []project `json:"results"`
	Meta    struct {
		Total int `json:"total"`
	} `json:"meta"`
}

type project struct {
	ProjectNum   string `json:"project_num"`
	ProjectTitle string `json:"project_title"`
	AbstractText string `json:"abstract_text"`
	PrefTerms    string `json:"pref_terms"`
	Organization struct {
		OrgName string `json:"org_name"`
	} `json:"organization"`
}

// Lookup searches RePORTER for the key: "name:"-prefixed keys search by
// organization name, everything else by project number. Returns
// enrich.ErrNotFound when the search matches nothing.
func (c *httpClient) Lookup(ctx context.Context, key string) (*model.ExternalMetadata, error) {
	req := searchRequest{Limit: 1}
	if name, ok := strings.CutPrefix(key, "name:"); ok {
		req.Criteria.OrgNames = []string{name}
	} else {
		req.Criteria.ProjectNums = []string{key}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "reporter: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/projects/search", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "reporter: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "reporter: send request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "reporter: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("reporter: unexpected status %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var result searchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "reporter: unmarshal response"), resp.StatusCode)
	}

	if len(result.Results) == 0 {
		return nil, enrich.ErrNotFound
	}

	p := result.Results[0]
	description := p.AbstractText
	if description == "" {
		description = p.ProjectTitle
	}

	return &model.ExternalMetadata{
		Source:      "nih",
		Key:         key,
		Description: description,
		Keywords:    splitTerms(p.PrefTerms),
		OrgName:     p.Organization.OrgName,
		RetrievedAt: time.Now(),
	}, nil
}

// splitTerms breaks RePORTER's semicolon-separated preferred terms into a
// keyword list.
func splitTerms(terms string) []string {
	var out []string
	for _, t := range strings.Split(terms, ";") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
