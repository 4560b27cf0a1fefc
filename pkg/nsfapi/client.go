// Package nsfapi is a minimal NSF Awards API client used to look up award
// metadata for NSF awards.
package nsfapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/awardsync/internal/enrich"
	"github.com/sells-group/awardsync/internal/model"
	"github.com/sells-group/awardsync/internal/resilience"
)

const defaultBaseURL = "https://api.nsf.gov"

// printFields limits the response to the fields the pipeline consumes.
const printFields = "id,title,abstractText,fundProgramName,primaryProgram,awardeeName"

// Client looks up NSF award metadata by award key.
type Client interface {
	Lookup(ctx context.Context, key string) (*model.ExternalMetadata, error)
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

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates an NSF Awards API client. The API is unauthenticated.
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

type awardsResponse struct {
	Response struct {
		Award []award `json:"award"`
	} `json:"response"`
}

type award struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	AbstractText    string `json:"abstractText"`
	FundProgramName string `json:"fundProgramName"`
	PrimaryProgram  string `json:"primaryProgram"`
	AwardeeName     string `json:"awardeeName"`
}

// Lookup queries GET /services/v1/awards.json: "name:"-prefixed keys search
// by awardee name, everything else by award id. Returns enrich.ErrNotFound
// when no award matches.
func (c *httpClient) Lookup(ctx context.Context, key string) (*model.ExternalMetadata, error) {
	params := url.Values{"printFields": {printFields}}
	if name, ok := strings.CutPrefix(key, "name:"); ok {
		params.Set("awardeeName", name)
	} else {
		params.Set("id", key)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/services/v1/awards.json?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "nsfapi: create request")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "nsfapi: send request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "nsfapi: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("nsfapi: unexpected status %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var result awardsResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "nsfapi: unmarshal response"), resp.StatusCode)
	}

	if len(result.Response.Award) == 0 {
		return nil, enrich.ErrNotFound
	}

	a := result.Response.Award[0]
	description := a.AbstractText
	if description == "" {
		description = a.Title
	}

	var keywords []string
	for _, kw := range []string{a.FundProgramName, a.PrimaryProgram} {
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}

	return &model.ExternalMetadata{
		Source:      "nsf",
		Key:         key,
		Description: description,
		Keywords:    keywords,
		OrgName:     a.AwardeeName,
		RetrievedAt: time.Now(),
	}, nil
}
