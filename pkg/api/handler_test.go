package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom/encoding/wkt"

	"geoduck/pkg/geom"
	"geoduck/pkg/metrics"
	"geoduck/pkg/source"
	"geoduck/pkg/transfer"
	"geoduck/pkg/verify"
)

type fakeService struct {
	result    transfer.Result
	report    *verify.Report
	err       error
	transfers int
}

func (f *fakeService) Transfer(ctx context.Context) (transfer.Result, error) {
	f.transfers++
	return f.result, f.err
}

func (f *fakeService) Verify(ctx context.Context) (*verify.Report, error) {
	return f.report, f.err
}

func sampleReport(t *testing.T) *verify.Report {
	t.Helper()
	report := &verify.Report{Table: "duckdb_geom", Format: geom.WKB, Rows: 3}
	for i, s := range source.SamplePolygons {
		g, err := wkt.Unmarshal(s)
		require.NoError(t, err)
		report.Decoded = append(report.Decoded, geom.Decoded{ID: int64(i + 1), Geometry: g})
	}
	report.Failures = []verify.DecodeFailure{{ID: 3, Err: geom.ErrEmptyPayload}}
	report.Evaluated = true
	report.Distance = 30.5
	return report
}

func serve(t *testing.T, svc Service, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	srv := NewAPIServer(svc, 0, nil, nil)
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	rr := serve(t, &fakeService{}, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestTransferHandler(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		svc := &fakeService{result: transfer.Result{RunID: "abc", Mode: "copy", Format: "wkb", Rows: 2}}
		rr := serve(t, svc, http.MethodPost, "/api/v1/transfer")

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, 1, svc.transfers)

		var got transfer.Result
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		assert.Equal(t, "abc", got.RunID)
		assert.Equal(t, int64(2), got.Rows)
	})

	t.Run("failure", func(t *testing.T) {
		svc := &fakeService{err: errors.New("catalog unreachable")}
		rr := serve(t, svc, http.MethodPost, "/api/v1/transfer")

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Contains(t, rr.Body.String(), "catalog unreachable")
	})

	t.Run("invalid method", func(t *testing.T) {
		svc := &fakeService{}
		rr := serve(t, svc, http.MethodGet, "/api/v1/transfer")

		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
		assert.Equal(t, 0, svc.transfers)
	})
}

func TestReportHandler(t *testing.T) {
	rr := serve(t, &fakeService{report: sampleReport(t)}, http.MethodGet, "/api/v1/report")
	require.Equal(t, http.StatusOK, rr.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "duckdb_geom", got["table"])
	assert.Len(t, got["decoded"], 2)
	assert.Len(t, got["failures"], 1)
	assert.Equal(t, 30.5, got["distance"])
	assert.Equal(t, false, got["crosses"])
}

func TestGeometriesHandler(t *testing.T) {
	rr := serve(t, &fakeService{report: sampleReport(t)}, http.MethodGet, "/api/v1/geometries")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/geo+json", rr.Header().Get("Content-Type"))

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			ID       string `json:"id"`
			Geometry struct {
				Type string `json:"type"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 2)
	assert.Equal(t, "1", fc.Features[0].ID)
	assert.Equal(t, "Polygon", fc.Features[0].Geometry.Type)
	assert.Equal(t, "Polygon", fc.Features[1].Properties["type"])

	t.Run("failure", func(t *testing.T) {
		rr := serve(t, &fakeService{err: errors.New("no table")}, http.MethodGet, "/api/v1/geometries")
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics()
	require.NoError(t, m.Register(reg))
	m.ObserveRun(metrics.StatusSuccess, 0.1)

	srv := NewAPIServer(&fakeService{}, 0, reg, nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), metrics.MetricPipelineRunsTotal))

	t.Run("disabled without gatherer", func(t *testing.T) {
		rr := serve(t, &fakeService{}, http.MethodGet, "/metrics")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestStopBeforeStart(t *testing.T) {
	srv := NewAPIServer(&fakeService{}, 0, nil, nil)
	require.NoError(t, srv.Stop(context.Background()))

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start kept serving after Stop")
	}
}

func TestStartStop(t *testing.T) {
	srv := NewAPIServer(&fakeService{}, 0, nil, nil)

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()

	// Stop may land before or after ListenAndServe; Start returns either way.
	require.NoError(t, srv.Stop(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
