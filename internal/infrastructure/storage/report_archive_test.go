package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/erp/syncengine/internal/domain/reconciliation"
	"github.com/erp/syncengine/internal/infrastructure/config"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

type fakeS3 struct {
	mu           sync.Mutex
	requests     []recordedRequest
	bucketExists bool
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: string(body)})
	exists := f.bucketExists
	f.mu.Unlock()

	switch {
	case r.Method == http.MethodHead && !exists:
		w.WriteHeader(http.StatusNotFound)
	case r.Method == http.MethodPut:
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (f *fakeS3) Requests() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func newTestArchive(t *testing.T, fake *fakeS3) *S3ReportArchive {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	a, err := NewS3ReportArchive(config.StorageConfig{
		Enabled:         true,
		Endpoint:        srv.URL,
		Bucket:          "reports",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		UsePathStyle:    true,
		Prefix:          "/sync/",
	})
	require.NoError(t, err)
	return a
}

func TestNewS3ReportArchive_Validation(t *testing.T) {
	_, err := NewS3ReportArchive(config.StorageConfig{AccessKeyID: "k", SecretAccessKey: "s"})
	assert.ErrorContains(t, err, "bucket is required")

	_, err = NewS3ReportArchive(config.StorageConfig{Bucket: "b"})
	assert.ErrorContains(t, err, "credentials are required")
}

func TestS3ReportArchive_Key(t *testing.T) {
	a := newTestArchive(t, &fakeS3{})
	id := uuid.MustParse("7f1c2a7e-4a4b-4c55-9d40-0a3b2f2a1c11")
	report := &reconciliation.Report{ID: id, StartedAt: time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC)}
	assert.Equal(t, "sync/reconciliation/2024/03/09/"+id.String()+".json", a.Key(report))
}

func TestS3ReportArchive_Archive(t *testing.T) {
	fake := &fakeS3{bucketExists: true}
	a := newTestArchive(t, fake)

	report := &reconciliation.Report{
		ID:               uuid.New(),
		StartedAt:        time.Now().UTC(),
		DataQualityScore: 91.5,
		Stats: []reconciliation.ComparisonStats{
			{EntityType: datasync.EntityTypeProduct, ZohoTotal: 2, LocalTotal: 2, Matching: 2, MatchPercentage: 100},
		},
	}

	key, err := a.Archive(context.Background(), report)
	require.NoError(t, err)
	assert.Equal(t, a.Key(report), key)

	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPut, reqs[0].Method)
	assert.Equal(t, "/reports/"+key, reqs[0].Path)
	assert.Contains(t, reqs[0].Body, report.ID.String())
	assert.Contains(t, reqs[0].Body, `"data_quality_score":91.5`)
}

func TestS3ReportArchive_EnsureBucket(t *testing.T) {
	t.Run("existing bucket is left alone", func(t *testing.T) {
		fake := &fakeS3{bucketExists: true}
		a := newTestArchive(t, fake)
		require.NoError(t, a.EnsureBucket(context.Background()))
		reqs := fake.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, http.MethodHead, reqs[0].Method)
	})

	t.Run("missing bucket is created", func(t *testing.T) {
		fake := &fakeS3{}
		a := newTestArchive(t, fake)
		require.NoError(t, a.EnsureBucket(context.Background()))
		reqs := fake.Requests()
		require.GreaterOrEqual(t, len(reqs), 2)
		last := reqs[len(reqs)-1]
		assert.Equal(t, http.MethodPut, last.Method)
		assert.True(t, strings.HasPrefix(last.Path, "/reports"))
	})
}
