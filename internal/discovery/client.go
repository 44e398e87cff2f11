package discovery

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/apperr"
	"github.com/spigell/job-pilot/internal/listing"
)

const (
	apiURL          = "https://api.adzuna.com/v1/api/jobs"
	defaultCountry  = "de"
	userAgent       = "job-pilot (+https://github.com/spigell/job-pilot)"
	contentType     = "application/json"
	contentEncoding = "gzip"
	sourceName      = "adzuna"

	// Max value accepted by the search API.
	resultsPerPage  = 50
	defaultMaxPages = 3
)

// SearchParams are the query parameters of one search.
type SearchParams struct {
	// apiparam is custom tag for reflect. Please see buildParams.
	What           string `apiparam:"what"`
	Where          string `apiparam:"where"`
	ResultsPerPage int    `apiparam:"results_per_page"`
	MaxDaysOld     int    `apiparam:"max_days_old"`
	SortBy         string `apiparam:"sort_by"`
	Category       string `apiparam:"category"`
	ExcludeWords   []string
}

type itemResponse struct {
	Count   int
	Results []item
}

type item interface{}

// result is one posting as returned by the search API.
type result struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	RedirectURL string `json:"redirect_url"`
	Created     string `json:"created"`
	Company     struct {
		DisplayName string `json:"display_name"`
	} `json:"company"`
	Location struct {
		DisplayName string `json:"display_name"`
	} `json:"location"`
	ContractTime string `json:"contract_time"`
}

// Client talks to an Adzuna-shaped job search API.
type Client struct {
	appID      string
	appKey     string
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
	Country    string
}

func NewClient(appID, appKey string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		appID:  appID,
		appKey: appKey,
		logger: logger,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		UserAgent: userAgent,
		APIURL:    apiURL,
		Country:   defaultCountry,
	}
}

// Search returns postings from up to maxPages result pages.
func (c *Client) Search(ctx context.Context, params *SearchParams, maxPages int) (*listing.Postings, error) {
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	if params.ResultsPerPage <= 0 {
		params.ResultsPerPage = resultsPerPage
	}

	q := buildParams(params)
	q.Set("app_id", c.appID)
	q.Set("app_key", c.appKey)

	items, err := c.getItems(ctx, q, params.ResultsPerPage, maxPages)
	if err != nil {
		return nil, err
	}

	var results []*result
	cfg := &mapstructure.DecoderConfig{
		Metadata:         nil,
		Result:           &results,
		TagName:          "json",
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(items); err != nil {
		return nil, fmt.Errorf("decode search results: %w", err)
	}

	postings := &listing.Postings{}
	for _, r := range results {
		postings.Items = append(postings.Items, r.posting())
	}
	return postings, nil
}

func (r *result) posting() *listing.Posting {
	return &listing.Posting{
		URL:         r.RedirectURL,
		ExternalID:  r.ID,
		Title:       strings.TrimSpace(r.Title),
		Company:     strings.TrimSpace(r.Company.DisplayName),
		Location:    strings.TrimSpace(r.Location.DisplayName),
		Description: strings.TrimSpace(r.Description),
		Source:      sourceName,
		PostedAt:    r.Created,
	}
}

// getItems requests pages 1..maxPages and stops early on a short page.
func (c *Client) getItems(ctx context.Context, q url.Values, perPage, maxPages int) ([]item, error) {
	var items []item

	for page := 1; page <= maxPages; page++ {
		endpoint := fmt.Sprintf("%s/%s/search/%d", strings.TrimRight(c.APIURL, "/"), c.Country, page)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req = c.setHeaders(req)
		req.URL.RawQuery = q.Encode()

		resp, err := c.request(req)
		if err != nil {
			return nil, apperr.ExternalCapability("job search request failed", err, true)
		}

		response, err := c.parseItemResponse(resp)
		if err != nil {
			return nil, err
		}

		c.logger.Debug("got response from job search",
			zap.Int("page", page),
			zap.Int("results", len(response.Results)),
			zap.Int("count", response.Count),
		)

		items = append(items, response.Results...)

		if len(response.Results) < perPage {
			break
		}
	}

	return items, nil
}

func (c *Client) parseItemResponse(resp *http.Response) (*itemResponse, error) {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
		return nil, apperr.ExternalCapability(fmt.Sprintf("job search: bad status: %s", resp.Status), nil, transient)
	}

	var body io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		body = gz
	}

	var response itemResponse
	if err := json.NewDecoder(body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	return &response, nil
}

func (c *Client) request(req *http.Request) (*http.Response, error) {
	c.logger.Debug("make request", zap.String("url", redact(req.URL)))
	return c.HTTPClient.Do(req)
}

func (c *Client) setHeaders(req *http.Request) *http.Request {
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", contentType)
	req.Header.Set("Accept-Encoding", contentEncoding)

	return req
}

// redact hides credentials from logged urls.
func redact(u *url.URL) string {
	c := *u
	q := c.Query()
	for _, k := range []string{"app_id", "app_key"} {
		if q.Has(k) {
			q.Set(k, "***")
		}
	}
	c.RawQuery = q.Encode()
	return c.String()
}

func buildParams(params *SearchParams) url.Values {
	q := url.Values{}
	value := reflect.ValueOf(params).Elem()
	for _, field := range reflect.VisibleFields(value.Type()) {
		// Our custom tag is used here.
		key := field.Tag.Get("apiparam")
		if key == "" {
			continue
		}

		v := fmt.Sprintf("%v", value.FieldByIndex(field.Index).Interface())
		if v != "" && v != "0" {
			q.Set(key, v)
		}
	}

	if len(params.ExcludeWords) > 0 {
		q.Set("what_exclude", strings.Join(params.ExcludeWords, " "))
	}
	q.Set("content-type", contentType)

	return q
}
