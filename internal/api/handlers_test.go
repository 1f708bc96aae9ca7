package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yourorg/ecu-report/internal/model"
	"github.com/yourorg/ecu-report/internal/report"
	"github.com/yourorg/ecu-report/internal/sbom"
)

type stubReports struct {
	doc *report.Document
	err error
}

func (s stubReports) Generate(_ context.Context, scanID, format string) (*report.Document, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.doc, nil
}

type stubSBOMs struct {
	out *sbom.Export
	err error
}

func (s stubSBOMs) Export(_ context.Context, _, format string) (*sbom.Export, error) {
	if _, err := sbom.ParseFormat(format); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.out, nil
}

type stubCVEs struct {
	entry *model.CVECacheEntry
	err   error
}

func (s stubCVEs) Resolve(context.Context, string) (*model.CVECacheEntry, error) {
	return s.entry, s.err
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type fixture struct {
	reports stubReports
	sboms   stubSBOMs
	cves    stubCVEs
	db      stubPinger
	logger  *zap.Logger
}

func (f fixture) server() http.Handler {
	return NewRouter(NewHandlers(f.reports, f.sboms, f.cves, f.db, f.logger), "", f.logger)
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestGenerateReportMarkdown(t *testing.T) {
	f := fixture{reports: stubReports{doc: &report.Document{
		Body:        []byte("# ECU Security Scan Report\n"),
		Filename:    "scan-report-S1.md",
		ContentType: "text/markdown",
	}}}

	rec := post(t, f.server(), "/functions/generate-report", `{"scanId":"S1","format":"markdown"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/markdown", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=scan-report-S1.md", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "# ECU Security Scan Report\n", rec.Body.String())
}

func TestGenerateReportDispositionFilename(t *testing.T) {
	for _, name := range []string{"scan-report-Steuergerät 1.json", `scan-report-a"b.json`} {
		f := fixture{reports: stubReports{doc: &report.Document{Body: []byte("{}"), Filename: name, ContentType: "application/json"}}}

		rec := post(t, f.server(), "/functions/generate-report", `{"scanId":"S1"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		disposition := rec.Header().Get("Content-Disposition")
		assert.NotContains(t, disposition, `\u`)
		kind, params, err := mime.ParseMediaType(disposition)
		require.NoError(t, err, disposition)
		assert.Equal(t, "attachment", kind)
		assert.Equal(t, name, params["filename"])
	}
}

func TestGenerateReportErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{name: "missing scan id", body: `{"format":"json"}`, want: http.StatusBadRequest},
		{name: "malformed body", body: `{"scanId":`, want: http.StatusBadRequest},
		{name: "bad format", body: `{"scanId":"S1","format":"docx"}`, err: fmt.Errorf("%w: unsupported report format", model.ErrInvalidInput), want: http.StatusBadRequest},
		{name: "scan not found", body: `{"scanId":"S9"}`, err: fmt.Errorf("%w: scan S9 not found", model.ErrNotFound), want: http.StatusNotFound},
		{name: "store failure", body: `{"scanId":"S1"}`, err: errors.New("load scan: connection refused"), want: http.StatusInternalServerError},
		{name: "bad stored data", body: `{"scanId":"S1"}`, err: fmt.Errorf("%w: unknown severity", model.ErrInvalidData), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := fixture{reports: stubReports{err: tt.err}}
			rec := post(t, f.server(), "/functions/generate-report", tt.body)
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			msg := errorBody(t, rec)
			assert.NotEmpty(t, msg)
			if tt.err != nil {
				assert.Equal(t, tt.err.Error(), msg)
			}
		})
	}
}

func TestExportSBOM(t *testing.T) {
	f := fixture{sboms: stubSBOMs{out: &sbom.Export{
		Data:        `{"bomFormat":"CycloneDX"}`,
		Filename:    "Brake Controller-sbom-cyclonedx.json",
		ContentType: "application/json",
	}}}

	rec := post(t, f.server(), "/functions/export-sbom", `{"scanId":"S1","format":"cyclonedx"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, map[string]string{
		"data":        `{"bomFormat":"CycloneDX"}`,
		"filename":    "Brake Controller-sbom-cyclonedx.json",
		"contentType": "application/json",
	}, got)
}

func TestExportSBOMUnsupportedFormat(t *testing.T) {
	f := fixture{sboms: stubSBOMs{out: &sbom.Export{Data: "must not be returned"}}}

	rec := post(t, f.server(), "/functions/export-sbom", `{"scanId":"S1","format":"xml"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, errorBody(t, rec), "invalid format")
	assert.NotContains(t, rec.Body.String(), "must not be returned")
}

func TestExportSBOMNotFound(t *testing.T) {
	f := fixture{sboms: stubSBOMs{err: fmt.Errorf("%w: no SBOM components for scan S1", model.ErrNotFound)}}
	rec := post(t, f.server(), "/functions/export-sbom", `{"scanId":"S1","format":"spdx"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFetchCVE(t *testing.T) {
	score := 9.8
	f := fixture{cves: stubCVEs{entry: &model.CVECacheEntry{CVEID: "CVE-2024-1234", Description: "overflow", CVSSScore: &score}}}

	rec := post(t, f.server(), "/functions/fetch-cve", `{"cveId":"CVE-2024-1234"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "CVE-2024-1234", got["cve_id"])
	assert.InDelta(t, 9.8, got["cvss_score"], 1e-9)
}

func TestFetchCVEErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"missing id", `{}`, nil, http.StatusBadRequest},
		{"unknown upstream", `{"cveId":"CVE-2099-0001"}`, fmt.Errorf("%w: CVE CVE-2099-0001 not found", model.ErrNotFound), http.StatusNotFound},
		{"nvd down", `{"cveId":"CVE-2024-1"}`, fmt.Errorf("%w: NVD API returned status 503", model.ErrUpstreamUnavailable), http.StatusBadGateway},
		{"cache read", `{"cveId":"CVE-2024-1"}`, errors.New("read cve cache: timeout"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := fixture{cves: stubCVEs{err: tt.err}}
			rec := post(t, f.server(), "/functions/fetch-cve", tt.body)
			assert.Equal(t, tt.want, rec.Code)
			assert.NotEmpty(t, errorBody(t, rec))
		})
	}
}

func TestPreflight(t *testing.T) {
	for _, path := range []string{"/functions/generate-report", "/functions/export-sbom", "/functions/fetch-cve"} {
		req := httptest.NewRequest(http.MethodOptions, path, nil)
		rec := httptest.NewRecorder()
		fixture{}.server().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code, path)
		assert.Empty(t, rec.Body.String(), path)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"), path)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "content-type", path)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST", path)
	}
}

func TestConfiguredOrigin(t *testing.T) {
	h := NewRouter(NewHandlers(stubReports{}, stubSBOMs{}, stubCVEs{}, stubPinger{}, nil), "https://dashboard.example.com", nil)
	rec := post(t, h, "/functions/fetch-cve", `{}`)
	assert.Equal(t, "https://dashboard.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	f := fixture{cves: stubCVEs{err: fmt.Errorf("%w: gone", model.ErrNotFound)}, logger: zap.New(core)}
	h := f.server()

	rec := post(t, h, "/functions/fetch-cve", `{"cveId":"CVE-2024-1"}`)
	generated := rec.Header().Get(RequestIDHeader)
	assert.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`, generated)

	access := logs.FilterMessage("request").All()
	require.NotEmpty(t, access)
	assert.Equal(t, generated, access[len(access)-1].ContextMap()["request_id"])
	assert.EqualValues(t, http.StatusNotFound, access[len(access)-1].ContextMap()["status"])

	req := httptest.NewRequest(http.MethodPost, "/functions/fetch-cve", strings.NewReader(`{"cveId":"CVE-2024-1"}`))
	req.Header.Set(RequestIDHeader, "caller-supplied")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "caller-supplied", rec.Header().Get(RequestIDHeader))
}

func TestBodyLimit(t *testing.T) {
	body := `{"scanId":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	rec := post(t, fixture{}.server(), "/functions/generate-report", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	fixture{}.server().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	fixture{db: stubPinger{err: errors.New("dial tcp")}}.server().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	h := fixture{}.server()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/functions/generate-report", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/functions/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", errorBody(t, rec))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(fmt.Errorf("wrap: %w", model.ErrInvalidInput)))
	assert.Equal(t, http.StatusNotFound, StatusFor(fmt.Errorf("wrap: %w", model.ErrNotFound)))
	assert.Equal(t, http.StatusBadGateway, StatusFor(fmt.Errorf("wrap: %w", model.ErrUpstreamUnavailable)))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(fmt.Errorf("wrap: %w", model.ErrInvalidData)))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(context.DeadlineExceeded))
}
