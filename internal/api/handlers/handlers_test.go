package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/moolen/sleuth/internal/analysis"
	"github.com/moolen/sleuth/internal/api"
	"github.com/moolen/sleuth/internal/corpus"
	"github.com/moolen/sleuth/internal/embedding"
	"github.com/moolen/sleuth/internal/incident"
	"github.com/moolen/sleuth/internal/logging"
	"github.com/moolen/sleuth/internal/store/memory"
)

const sampleCSV = "Incidents,Description,Actions Taken,Participants\n" +
	"INC1,VPN drops every 10 minutes,raised idle timeout,netops\n" +
	"INC2,printer jam on floor 3,cleared tray,helpdesk\n"

type fakeAnalyzer struct {
	got    analysis.Request
	result *incident.AnalysisResult
	err    error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req analysis.Request) (*incident.AnalysisResult, error) {
	f.got = req
	return f.result, f.err
}

func newMux(t *testing.T, analyzer api.IncidentAnalyzer, maxUpload int64) (*http.ServeMux, *corpus.Store) {
	t.Helper()
	store := corpus.NewStore(memory.New(), embedding.NewHashing(32))
	mux := http.NewServeMux()
	withMethod := func(method string, h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Method != method {
				api.WriteError(w, http.StatusMethodNotAllowed, api.ErrorCodeMethodNotAllowed, "wrong method")
				return
			}
			h(w, r)
		}
	}
	RegisterHandlers(mux, analyzer, store, maxUpload, logging.GetLogger("test"), noop.NewTracerProvider().Tracer("test"), withMethod)
	return mux, store
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) api.ErrorResponse {
	t.Helper()
	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestAnalyzeHandler(t *testing.T) {
	fake := &fakeAnalyzer{result: &incident.AnalysisResult{
		RequestID: "req-1",
		CurrentIncident: incident.Current{
			Description: "vpn down",
			Analysis:    incident.RootCause{Category: incident.CategoryNetwork, RootCause: "idle timeout"},
		},
		SimilarIncidents: []incident.SimilarIncident{{IncidentID: "INC1", SimilarityScore: 80}},
	}}
	mux, _ := newMux(t, fake, 0)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/incidents/analyze",
		strings.NewReader(`{"description":"vpn down","threshold":60,"max_similar":1}`))
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "vpn down", fake.got.Description)
	require.NotNil(t, fake.got.Threshold)
	assert.Equal(t, 60.0, *fake.got.Threshold)
	require.NotNil(t, fake.got.MaxSimilar)
	assert.Equal(t, 1, *fake.got.MaxSimilar)

	var got incident.AnalysisResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, "INC1", got.SimilarIncidents[0].IncidentID)
}

func TestAnalyzeHandlerMarkdown(t *testing.T) {
	fake := &fakeAnalyzer{result: &incident.AnalysisResult{
		CurrentIncident: incident.Current{Analysis: incident.FailedRootCause()},
	}}
	mux, _ := newMux(t, fake, 0)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/incidents/analyze?format=md",
		strings.NewReader(`{"fields":[{"key":"Summary","value":"disk full"}]}`))
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Summary: disk full", fake.got.Description)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/markdown")
	assert.Contains(t, rec.Body.String(), "## Root Cause Analysis")
}

func TestAnalyzeHandlerErrors(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		body       string
		err        error
		wantStatus int
		wantCode   api.ErrorCode
	}{
		{name: "bad json", method: http.MethodPost, body: `{"description":`, wantStatus: http.StatusBadRequest, wantCode: api.ErrorCodeInvalidRequest},
		{name: "empty", method: http.MethodPost, body: `{}`, wantStatus: http.StatusBadRequest, wantCode: api.ErrorCodeInvalidRequest},
		{name: "analysis failure", method: http.MethodPost, body: `{"description":"x"}`, err: errors.New("store down"), wantStatus: http.StatusInternalServerError, wantCode: api.ErrorCodeInternalError},
		{name: "timeout", method: http.MethodPost, body: `{"description":"x"}`, err: context.DeadlineExceeded, wantStatus: http.StatusGatewayTimeout, wantCode: api.ErrorCodeTimeout},
		{name: "wrong method", method: http.MethodGet, wantStatus: http.StatusMethodNotAllowed, wantCode: api.ErrorCodeMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, _ := newMux(t, &fakeAnalyzer{err: tt.err}, 0)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, "/v1/incidents/analyze", strings.NewReader(tt.body)))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, string(tt.wantCode), decodeError(t, rec).Error)
		})
	}
}

func multipartBody(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestCorpusUploadCountReset(t *testing.T) {
	mux, store := newMux(t, &fakeAnalyzer{}, 0)

	body, contentType := multipartBody(t, "incidents.csv", sampleCSV, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/corpus/load", body)
	req.Header.Set("Content-Type", contentType)
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rep corpus.LoadReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, 2, rep.Inserted)
	assert.Equal(t, "incidents.csv", rep.Source)

	// second upload is skipped
	body, contentType = multipartBody(t, "incidents.csv", sampleCSV, nil)
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/corpus/load", body)
	req.Header.Set("Content-Type", contentType)
	mux.ServeHTTP(rec, req)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.True(t, rep.Skipped)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/corpus/count", nil))
	assert.JSONEq(t, `{"count":2}`, rec.Body.String())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/corpus/reset", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCorpusLoadFromPath(t *testing.T) {
	mux, store := newMux(t, &fakeAnalyzer{}, 0)
	path := filepath.Join(t.TempDir(), "incidents.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o600))

	_, err := store.Load(context.Background(), "seed", []incident.Historical{{ID: "OLD", Description: "old"}}, nil)
	require.NoError(t, err)

	payload, err := json.Marshal(api.LoadRequest{Path: path, Reset: true})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/corpus/load", bytes.NewReader(payload)))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCorpusLoadErrors(t *testing.T) {
	t.Run("unsupported upload", func(t *testing.T) {
		mux, _ := newMux(t, &fakeAnalyzer{}, 0)
		body, contentType := multipartBody(t, "incidents.txt", sampleCSV, nil)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/corpus/load", body)
		req.Header.Set("Content-Type", contentType)
		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, string(api.ErrorCodeInvalidSource), decodeError(t, rec).Error)
	})

	t.Run("missing column", func(t *testing.T) {
		mux, _ := newMux(t, &fakeAnalyzer{}, 0)
		body, contentType := multipartBody(t, "incidents.csv", "Incidents,Description\nINC1,x\n", nil)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/corpus/load", body)
		req.Header.Set("Content-Type", contentType)
		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, string(api.ErrorCodeInvalidSource), decodeError(t, rec).Error)
	})

	t.Run("missing path", func(t *testing.T) {
		mux, _ := newMux(t, &fakeAnalyzer{}, 0)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/corpus/load", strings.NewReader(`{}`)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, string(api.ErrorCodeInvalidRequest), decodeError(t, rec).Error)
	})

	t.Run("upload too large", func(t *testing.T) {
		mux, _ := newMux(t, &fakeAnalyzer{}, 64)
		body, contentType := multipartBody(t, "incidents.csv", sampleCSV+strings.Repeat("x", 512), nil)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/corpus/load", body)
		req.Header.Set("Content-Type", contentType)
		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}
