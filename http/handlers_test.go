package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"glucosense/db"
	"glucosense/health"
	"glucosense/inference"
	"glucosense/ml"
	"glucosense/monitoring"
	"glucosense/schema"
)

const sampleJSON = `{"gender":"Male","age":45,"smoking_history":"never","bmi":27.5,"hypertension":1,"heart_disease":0,"blood_glucose_level":140}`

// glucoseModel derives the estimate from the last feature.
type glucoseModel struct{}

func (glucoseModel) Predict(features []float64) (float64, error) {
	return 3.5 + features[len(features)-1]/80, nil
}

func testArtifact(features ...string) *schema.Artifact {
	if len(features) == 0 {
		features = []string{"gender", "age", "hypertension", "heart_disease", "smoking_history", "bmi", "blood_glucose_level"}
	}
	fs := schema.MustFeatureSchema(features...)
	encodings := schema.DefaultEncodings()
	for _, col := range encodings.Columns() {
		if _, ok := fs.Index(col); !ok {
			delete(encodings, col)
		}
	}
	return &schema.Artifact{
		Version:   schema.ArtifactVersion,
		RunID:     "run-42",
		ModelType: ml.ModelTypeRandomForest,
		Target:    schema.ColumnTarget,
		Features:  fs,
		Encodings: encodings,
		TrainedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

type fakeRuns struct {
	run *db.TrainingRun
}

func (f fakeRuns) LatestTrainingRun(context.Context) (*db.TrainingRun, error) {
	if f.run == nil {
		return nil, db.ErrNoRuns
	}
	return f.run, nil
}

func newTestHandler(t *testing.T, artifact *schema.Artifact, runs RunStore) (http.Handler, *monitoring.MetricsCollector) {
	t.Helper()
	metrics := monitoring.NewMetricsCollector()
	svc, err := inference.New(glucoseModel{}, artifact, inference.Options{CacheSize: 16, Recorder: metrics})
	require.NoError(t, err)
	return NewHandler(DefaultServerConfig(), Deps{Estimator: svc, Runs: runs, Metrics: metrics}), metrics
}

func serve(h http.Handler, method, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthHandler(t *testing.T) {
	h, _ := newTestHandler(t, testArtifact(), nil)
	w := serve(h, http.MethodGet, "/api/health", "", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestPredictJSON(t *testing.T) {
	h, metrics := newTestHandler(t, testArtifact(), nil)
	w := serve(h, http.MethodPost, "/api/predict", "application/json", sampleJSON)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp PredictResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.InDelta(t, 5.25, resp.HbA1c, 1e-12)
	assert.Equal(t, health.TierNormal, resp.Tier)
	assert.Equal(t, health.TierNormal.Guidance().Headline, resp.Guidance.Headline)

	assert.Equal(t, 1.0, metrics.Snapshot().ByTier["Normal"])
}

func TestPredictForm(t *testing.T) {
	h, _ := newTestHandler(t, testArtifact(), nil)
	form := url.Values{
		"gender":              {"Female"},
		"age":                 {"60"},
		"smoking_history":     {"former"},
		"bmi":                 {"31.2"},
		"hypertension":        {"Yes"},
		"heart_disease":       {"No"},
		"blood_glucose_level": {"240"},
	}
	w := serve(h, http.MethodPost, "/api/predict", "application/x-www-form-urlencoded", form.Encode())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp PredictResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, health.TierDiabetes, resp.Tier)
}

func TestPredictErrors(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantStatus  int
		wantField   string
	}{
		{"out of range", "application/json", strings.Replace(sampleJSON, `"bmi":27.5`, `"bmi":80`, 1), http.StatusUnprocessableEntity, "bmi"},
		{"unknown label", "application/json", strings.Replace(sampleJSON, `"never"`, `"sometimes"`, 1), http.StatusUnprocessableEntity, "smoking_history"},
		{"missing field", "application/json", `{"gender":"Male"}`, http.StatusUnprocessableEntity, "age"},
		{"malformed", "application/json", `{"gender":`, http.StatusBadRequest, ""},
		{"form missing field", "application/x-www-form-urlencoded", "gender=Male", http.StatusUnprocessableEntity, "age"},
		{"too large", "application/json", `{"pad":"` + strings.Repeat("x", maxBodyBytes) + `"}`, http.StatusRequestEntityTooLarge, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(t, testArtifact(), nil)
			w := serve(h, http.MethodPost, "/api/predict", tt.contentType, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			var body errorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
			assert.Equal(t, tt.wantField, body.Field)
		})
	}
}

func TestPredictSchemaMismatchIsServerError(t *testing.T) {
	h, _ := newTestHandler(t, testArtifact("gender", "age", "bmi"), nil)
	w := serve(h, http.MethodPost, "/api/predict", "application/json", sampleJSON)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestPredictRequiresPost(t *testing.T) {
	h, _ := newTestHandler(t, testArtifact(), nil)
	w := serve(h, http.MethodGet, "/api/predict", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestSchemaHandler(t *testing.T) {
	h, _ := newTestHandler(t, testArtifact(), nil)
	w := serve(h, http.MethodGet, "/api/schema", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp SchemaResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "HbA1c_level", resp.Target)
	assert.Len(t, resp.Features, 7)
	assert.Equal(t, []EncodedLabel{{"Female", 0}, {"Male", 1}, {"Other", 2}}, resp.Encodings["gender"])
	assert.Equal(t, EncodedLabel{"not current", 5}, resp.Encodings["smoking_history"][5])
}

func TestModelHandler(t *testing.T) {
	h, _ := newTestHandler(t, testArtifact(), fakeRuns{run: &db.TrainingRun{RunID: "run-42", R2: 0.61}})
	w := serve(h, http.MethodGet, "/api/model", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp ModelResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "run-42", resp.RunID)
	assert.Equal(t, ml.ModelTypeRandomForest, resp.ModelType)
	require.NotNil(t, resp.LatestRun)
	assert.Equal(t, 0.61, resp.LatestRun.R2)

	h, _ = newTestHandler(t, testArtifact(), fakeRuns{})
	w = serve(h, http.MethodGet, "/api/model", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "latest_run")
}

func TestMetricsHandler(t *testing.T) {
	h, _ := newTestHandler(t, testArtifact(), nil)
	serve(h, http.MethodPost, "/api/predict", "application/json", sampleJSON)
	serve(h, http.MethodPost, "/api/predict", "application/json", sampleJSON)

	w := serve(h, http.MethodGet, "/api/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var snap monitoring.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, 2.0, snap.Predictions)
	assert.Equal(t, 1.0, snap.CacheHits)

	w = serve(h, http.MethodGet, "/api/metrics?format=prometheus", "", "")
	assert.Contains(t, w.Body.String(), `predictions_total{tier="Normal"} 2`)
}

func TestCORSPreflight(t *testing.T) {
	h := NewHandler(ServerConfig{Timeout: time.Second, AllowedOrigins: []string{"https://clinic.example"}}, Deps{Estimator: nil})
	req := httptest.NewRequest(http.MethodOptions, "/api/predict", nil)
	req.Header.Set("Origin", "https://clinic.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://clinic.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := Chain(RecoveryMiddleware(zap.NewNop()))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestPredictWebSocket(t *testing.T) {
	h, _ := newTestHandler(t, testArtifact(), nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/predict"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"a","record":`+sampleJSON+`}`)))
	var reply SocketMessage
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "a", reply.ID)
	require.NotNil(t, reply.Result)
	assert.Equal(t, health.TierNormal, reply.Result.Tier)

	bad := strings.Replace(sampleJSON, `"age":45`, `"age":300`, 1)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(bad)))
	reply = SocketMessage{}
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Nil(t, reply.Result)
	require.NotNil(t, reply.Error)
	assert.Equal(t, "age", reply.Error.Field)
}
