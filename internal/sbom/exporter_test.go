package sbom

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/ecu-report/internal/model"
)

type fakeStore struct {
	scan       *model.Scan
	components []model.SBOMComponent
	err        error
	calls      int
}

func (f *fakeStore) GetScan(_ context.Context, id string) (*model.Scan, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.scan == nil || f.scan.ID != id {
		return nil, nil
	}
	return f.scan, nil
}

func (f *fakeStore) ListSBOMComponents(context.Context, string) ([]model.SBOMComponent, error) {
	f.calls++
	return f.components, nil
}

func newTestExporter(store Store) *Exporter {
	e := NewExporter(store, fixedOpts, nil)
	e.now = func() time.Time { return fixedOpts.Timestamp }
	return e
}

func TestExport(t *testing.T) {
	scan := testScan()
	tests := []struct {
		format      string
		filename    string
		contentType string
		prefix      string
	}{
		{"cyclonedx", "Brake Controller-sbom-cyclonedx.json", "application/json", "{"},
		{"spdx", "Brake Controller-sbom-spdx.json", "application/json", "{"},
		{"swid", "Brake Controller-sbom-swid.xml", "application/xml", "<?xml"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			store := &fakeStore{scan: scan, components: testComponents()}
			out, err := newTestExporter(store).Export(context.Background(), scan.ID, tt.format)
			require.NoError(t, err)
			assert.Equal(t, tt.filename, out.Filename)
			assert.Equal(t, tt.contentType, out.ContentType)
			assert.True(t, len(out.Data) > len(tt.prefix) && out.Data[:len(tt.prefix)] == tt.prefix)

			direct, err := Encode(Format(tt.format), scan, testComponents(), fixedOpts)
			require.NoError(t, err)
			assert.Equal(t, string(direct), out.Data)
		})
	}
}

func TestExportInvalidFormatSkipsStore(t *testing.T) {
	store := &fakeStore{scan: testScan(), components: testComponents()}
	out, err := newTestExporter(store).Export(context.Background(), store.scan.ID, "xml")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	assert.Nil(t, out)
	assert.Zero(t, store.calls)
}

func TestExportNotFound(t *testing.T) {
	t.Run("missing scan", func(t *testing.T) {
		_, err := newTestExporter(&fakeStore{}).Export(context.Background(), "nope", "spdx")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
	t.Run("no components", func(t *testing.T) {
		store := &fakeStore{scan: testScan()}
		_, err := newTestExporter(store).Export(context.Background(), store.scan.ID, "cyclonedx")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestExportStoreFailure(t *testing.T) {
	boom := errors.New("too many connections")
	_, err := newTestExporter(&fakeStore{err: boom}).Export(context.Background(), "S1", "swid")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, model.ErrNotFound))
}

func TestExportRequiresScanID(t *testing.T) {
	_, err := newTestExporter(&fakeStore{}).Export(context.Background(), "", "spdx")
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}
