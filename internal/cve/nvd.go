package cve

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/yourorg/ecu-report/internal/model"
)

const DefaultNVDURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"

// NVDClient queries the NVD CVE API 2.0 for a single identifier.
type NVDClient struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type NVDOption func(*NVDClient)

func WithAPIURL(u string) NVDOption { return func(c *NVDClient) { c.apiURL = u } }

// WithAPIKey sends the key in the apiKey header; NVD grants a higher rate limit to keyed clients.
func WithAPIKey(k string) NVDOption { return func(c *NVDClient) { c.apiKey = k } }

func WithHTTPClient(hc *http.Client) NVDOption { return func(c *NVDClient) { c.httpClient = hc } }

// WithRequestsPer30s paces outbound requests to n per rolling 30 seconds.
func WithRequestsPer30s(n int) NVDOption {
	return func(c *NVDClient) {
		if n <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(30*time.Second/time.Duration(n)), n)
	}
}

func NewNVDClient(opts ...NVDOption) *NVDClient {
	c := &NVDClient{
		apiURL:     DefaultNVDURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	WithRequestsPer30s(5)(c)
	for _, o := range opts {
		o(c)
	}
	return c
}

// Fetch returns (nil, nil) when NVD has no record for id. Any transport, status or decoding problem
// is returned as an error.
func (c *NVDClient) Fetch(ctx context.Context, id string) (*Record, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("nvd rate limiter: %w", err)
		}
	}

	u, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("nvd url: %w", err)
	}
	q := u.Query()
	q.Set("cveId", id)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apiKey", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("NVD API request failed: %w", err)
	}
	//nolint:errcheck // Defer close on HTTP response body
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("NVD API returned status %d", resp.StatusCode)
	}

	var body nvdResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse NVD response: %w", err)
	}
	if len(body.Vulnerabilities) == 0 {
		return nil, nil
	}
	rec := body.Vulnerabilities[0].CVE
	return &rec, nil
}

// NVD API 2.0 response types, reduced to the fields the cache keeps.

type nvdResponse struct {
	TotalResults    int            `json:"totalResults"`
	Vulnerabilities []nvdVulnEntry `json:"vulnerabilities"`
}

type nvdVulnEntry struct {
	CVE Record `json:"cve"`
}

// Record is one NVD CVE item.
type Record struct {
	ID             string          `json:"id"`
	Published      string          `json:"published"`
	LastModified   string          `json:"lastModified"`
	Descriptions   []LangString    `json:"descriptions"`
	Metrics        Metrics         `json:"metrics"`
	Weaknesses     []Weakness      `json:"weaknesses"`
	Configurations json.RawMessage `json:"configurations"`
	References     []Reference     `json:"references"`
}

type LangString struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

type Metrics struct {
	CVSSMetricV31 []CVSSMetric `json:"cvssMetricV31"`
	CVSSMetricV2  []CVSSMetric `json:"cvssMetricV2"`
}

// CVSSMetric covers both v3.1 (severity inside cvssData) and v2 (severity on the metric).
type CVSSMetric struct {
	Source       string   `json:"source"`
	Type         string   `json:"type"`
	CVSSData     CVSSData `json:"cvssData"`
	BaseSeverity string   `json:"baseSeverity"`
}

type CVSSData struct {
	Version      string  `json:"version"`
	VectorString string  `json:"vectorString"`
	BaseScore    float64 `json:"baseScore"`
	BaseSeverity string  `json:"baseSeverity"`
}

type Weakness struct {
	Source      string       `json:"source"`
	Type        string       `json:"type"`
	Description []LangString `json:"description"`
}

type Reference struct {
	URL    string   `json:"url"`
	Source string   `json:"source"`
	Tags   []string `json:"tags"`
}

// ToEntry flattens an NVD record into a cache entry stamped with fetchedAt.
func (r *Record) ToEntry(id string, fetchedAt time.Time) *model.CVECacheEntry {
	e := &model.CVECacheEntry{
		CVEID:            id,
		Description:      englishDescription(r.Descriptions),
		PublishedDate:    parseNVDTime(r.Published),
		LastModifiedDate: parseNVDTime(r.LastModified),
		References:       make([]model.CVEReference, 0, len(r.References)),
		CWEIDs:           cweIDs(r.Weaknesses),
		FetchedAt:        fetchedAt,
	}
	if len(r.Configurations) > 0 && string(r.Configurations) != "null" {
		e.AffectedProducts = r.Configurations
	}

	score, severity, ok := primaryCVSS(r.Metrics)
	if ok {
		e.CVSSScore = &score
		if severity != "" {
			sev := strings.ToLower(severity)
			e.Severity = &sev
		}
	}

	for _, ref := range r.References {
		e.References = append(e.References, model.CVEReference{URL: ref.URL, Source: ref.Source, Tags: ref.Tags})
	}
	return e
}

// primaryCVSS prefers the first v3.1 metric over the first v2 metric.
func primaryCVSS(m Metrics) (score float64, severity string, ok bool) {
	if len(m.CVSSMetricV31) > 0 {
		v := m.CVSSMetricV31[0]
		sev := v.CVSSData.BaseSeverity
		if sev == "" {
			sev = v.BaseSeverity
		}
		return v.CVSSData.BaseScore, sev, true
	}
	if len(m.CVSSMetricV2) > 0 {
		v := m.CVSSMetricV2[0]
		sev := v.BaseSeverity
		if sev == "" {
			sev = v.CVSSData.BaseSeverity
		}
		return v.CVSSData.BaseScore, sev, true
	}
	return 0, "", false
}

func englishDescription(ds []LangString) string {
	for _, d := range ds {
		if d.Lang == "en" {
			return d.Value
		}
	}
	return ""
}

func cweIDs(ws []Weakness) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0)
	for _, w := range ws {
		for _, d := range w.Description {
			v := strings.TrimSpace(d.Value)
			if v == "" {
				continue
			}
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

var nvdTimeLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
}

// parseNVDTime reads NVD timestamps, which carry no zone and are UTC.
func parseNVDTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range nvdTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
