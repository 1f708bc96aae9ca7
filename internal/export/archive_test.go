package export

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/ecu-report/internal/model"
	"github.com/yourorg/ecu-report/internal/report"
	"github.com/yourorg/ecu-report/internal/sbom"
)

type memBucket struct {
	mu       sync.Mutex
	objects  map[string][]byte
	types    map[string]string
	failures map[string]int
	inflight atomic.Int32
	peak     atomic.Int32
}

func newMemBucket() *memBucket {
	return &memBucket{objects: map[string][]byte{}, types: map[string]string{}, failures: map[string]int{}}
}

func (b *memBucket) PutBytes(_ context.Context, bucket, key string, data []byte, contentType string) error {
	n := b.inflight.Add(1)
	defer b.inflight.Add(-1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures[key] > 0 {
		b.failures[key]--
		return errors.New("503 SlowDown")
	}
	b.objects[bucket+"/"+key] = data
	b.types[bucket+"/"+key] = contentType
	return nil
}

func (b *memBucket) keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for k := range b.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type fakeLister struct {
	scans   []model.Scan
	limit   int
	missing map[string]bool
}

func (f *fakeLister) GetScan(_ context.Context, id string) (*model.Scan, error) {
	if f.missing[id] {
		return nil, nil
	}
	return &model.Scan{ID: id}, nil
}

func (f *fakeLister) ListCompletedScans(_ context.Context, limit int) ([]model.Scan, error) {
	f.limit = limit
	return f.scans, nil
}

type fakeReports struct {
	mu     sync.Mutex
	builds map[string]int
	fail   map[string]error
}

func (f *fakeReports) Build(_ context.Context, scanID string) (*report.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds[scanID]++
	if err := f.fail[scanID]; err != nil {
		return nil, err
	}
	return &report.Report{Scan: report.ScanInfo{ID: scanID}}, nil
}

func (f *fakeReports) Render(rep *report.Report, fmtName report.Format) (*report.Document, error) {
	if fmtName == report.FormatMarkdown {
		return &report.Document{Body: []byte("# " + rep.Scan.ID), Filename: "scan-report-" + rep.Scan.ID + ".md", ContentType: "text/markdown"}, nil
	}
	return &report.Document{Body: []byte(`{}`), Filename: "scan-report-" + rep.Scan.ID + ".json", ContentType: "application/json"}, nil
}

type fakeSBOMs struct {
	empty map[string]bool
}

func (f fakeSBOMs) Export(_ context.Context, scanID, format string) (*sbom.Export, error) {
	if f.empty[scanID] {
		return nil, fmt.Errorf("%w: no SBOM components for scan %s", model.ErrNotFound, scanID)
	}
	ff, err := sbom.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return &sbom.Export{Data: format + ":" + scanID, ContentType: ff.ContentType()}, nil
}

func newFakeReports() *fakeReports {
	return &fakeReports{builds: map[string]int{}, fail: map[string]error{}}
}

func TestArchiverUploadsAllArtifacts(t *testing.T) {
	bucket := newMemBucket()
	reports := newFakeReports()
	a := NewArchiver(Config{Bucket: "reports", BaseDelay: time.Millisecond}, &fakeLister{}, reports, fakeSBOMs{}, bucket, nil)

	res, err := a.Run(context.Background(), []string{"S1"}, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 1, res.OK)
	assert.Equal(t, 5, res.Uploaded)
	assert.Equal(t, 1, reports.builds["S1"], "report is built once for both renderings")

	assert.Equal(t, []string{
		"reports/reports/S1/sbom-cyclonedx.json",
		"reports/reports/S1/sbom-spdx.json",
		"reports/reports/S1/sbom-swid.xml",
		"reports/reports/S1/scan-report-S1.json",
		"reports/reports/S1/scan-report-S1.md",
	}, bucket.keys())
	assert.Equal(t, "application/xml", bucket.types["reports/reports/S1/sbom-swid.xml"])
	assert.Equal(t, "text/markdown", bucket.types["reports/reports/S1/scan-report-S1.md"])
}

func TestArchiverSkipsSBOMsWithoutComponents(t *testing.T) {
	bucket := newMemBucket()
	a := NewArchiver(Config{Bucket: "b"}, &fakeLister{}, newFakeReports(), fakeSBOMs{empty: map[string]bool{"S2": true}}, bucket, nil)

	res, err := a.Run(context.Background(), []string{"S2"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.OK)
	assert.Equal(t, 2, res.Uploaded)
	assert.Equal(t, []string{"b/reports/S2/scan-report-S2.json", "b/reports/S2/scan-report-S2.md"}, bucket.keys())
}

func TestArchiverFailsUnknownScan(t *testing.T) {
	bucket := newMemBucket()
	reports := newFakeReports()
	lister := &fakeLister{missing: map[string]bool{"GHOST": true}}
	a := NewArchiver(Config{Bucket: "b", Artifacts: []Artifact{ArtifactCycloneDX}}, lister, reports, fakeSBOMs{}, bucket, nil)

	res, err := a.Run(context.Background(), []string{"GHOST", "S1"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.OK)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Uploaded)
	assert.Equal(t, []string{"b/reports/S1/sbom-cyclonedx.json"}, bucket.keys())
	assert.Zero(t, reports.builds["GHOST"])
}

func TestArchiverListsCompletedScans(t *testing.T) {
	lister := &fakeLister{scans: []model.Scan{{ID: "A"}, {ID: "B"}, {ID: "C"}, {ID: "D"}}}
	bucket := newMemBucket()
	a := NewArchiver(Config{Bucket: "b", Concurrency: 2, Artifacts: []Artifact{ArtifactReportJSON}}, lister, newFakeReports(), fakeSBOMs{}, bucket, nil)

	res, err := a.Run(context.Background(), nil, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, lister.limit)
	assert.Equal(t, 4, res.Processed)
	assert.Equal(t, 4, res.Uploaded)
	assert.LessOrEqual(t, bucket.peak.Load(), int32(2))
}

func TestArchiverRetriesUploads(t *testing.T) {
	bucket := newMemBucket()
	bucket.failures["reports/S1/scan-report-S1.json"] = 2
	a := NewArchiver(Config{Bucket: "b", Artifacts: []Artifact{ArtifactReportJSON}, MaxAttempts: 3, BaseDelay: time.Millisecond},
		&fakeLister{}, newFakeReports(), fakeSBOMs{}, bucket, nil)

	res, err := a.Run(context.Background(), []string{"S1"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.OK)
	assert.Contains(t, bucket.keys(), "b/reports/S1/scan-report-S1.json")
}

func TestArchiverCountsFailures(t *testing.T) {
	reports := newFakeReports()
	reports.fail["BAD"] = fmt.Errorf("%w: scan BAD not found", model.ErrNotFound)
	bucket := newMemBucket()
	bucket.failures["reports/FLAKY/scan-report-FLAKY.json"] = 5
	a := NewArchiver(Config{Bucket: "b", Artifacts: []Artifact{ArtifactReportJSON}, MaxAttempts: 2, BaseDelay: time.Millisecond},
		&fakeLister{}, reports, fakeSBOMs{}, bucket, nil)

	res, err := a.Run(context.Background(), []string{"OK", "BAD", "FLAKY"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 1, res.OK)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, []string{"b/reports/OK/scan-report-OK.json"}, bucket.keys())
}

func TestParseArtifacts(t *testing.T) {
	all, err := ParseArtifacts("")
	require.NoError(t, err)
	assert.Equal(t, AllArtifacts, all)

	got, err := ParseArtifacts(" SPDX, json,spdx ")
	require.NoError(t, err)
	assert.Equal(t, []Artifact{ArtifactSPDX, ArtifactReportJSON}, got)

	_, err = ParseArtifacts("json,pdf")
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}
