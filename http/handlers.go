package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"glucosense/db"
	"glucosense/health"
	"glucosense/inference"
	"glucosense/schema"
)

type handlers struct {
	deps Deps
}

func (h *handlers) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("POST /api/predict", h.handlePredict)
	mux.HandleFunc("GET /api/schema", h.handleSchema)
	mux.HandleFunc("GET /api/model", h.handleModel)
	mux.HandleFunc("GET /api/metrics", h.handleMetrics)
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// PredictResponse is the body of a successful estimate.
type PredictResponse struct {
	HbA1c    float64         `json:"hba1c"`
	Tier     health.RiskTier `json:"tier"`
	Guidance health.Guidance `json:"guidance"`
}

func newPredictResponse(res inference.Result) PredictResponse {
	return PredictResponse{HbA1c: res.HbA1c, Tier: res.Tier, Guidance: res.Tier.Guidance()}
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePredict accepts a JSON record or form-encoded fields.
func (h *handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	rec, err := decodeRecord(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.deps.Estimator.Predict(r.Context(), rec)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPredictResponse(res))
}

func decodeRecord(r *http.Request) (health.Record, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return health.Record{}, bodyError(err)
		}
		values := make(map[string]string, len(r.PostForm))
		for key := range r.PostForm {
			values[key] = r.PostForm.Get(key)
		}
		return health.ParseForm(values)
	default:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return health.Record{}, bodyError(err)
		}
		return health.DecodeJSON(body)
	}
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return tooLarge
	}
	return eris.Wrap(health.ErrMalformed, err.Error())
}

// SchemaResponse describes the loaded feature contract.
type SchemaResponse struct {
	Target    string                    `json:"target"`
	Features  []string                  `json:"features"`
	Encodings map[string][]EncodedLabel `json:"encodings"`
}

type EncodedLabel struct {
	Label string `json:"label"`
	Code  int    `json:"code"`
}

func (h *handlers) handleSchema(w http.ResponseWriter, r *http.Request) {
	artifact := h.deps.Estimator.Artifact()
	resp := SchemaResponse{
		Target:    artifact.Target,
		Features:  artifact.Features.Names(),
		Encodings: make(map[string][]EncodedLabel),
	}
	for _, col := range artifact.Encodings.Columns() {
		for _, label := range artifact.Encodings.Labels(col) {
			resp.Encodings[col] = append(resp.Encodings[col], EncodedLabel{Label: label, Code: artifact.Encodings[col][label]})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ModelResponse is the artifact metadata plus the newest registered run.
type ModelResponse struct {
	RunID     string          `json:"run_id,omitempty"`
	ModelType string          `json:"model_type"`
	Target    string          `json:"target"`
	Features  []string        `json:"features"`
	TrainedAt time.Time       `json:"trained_at"`
	LatestRun *db.TrainingRun `json:"latest_run,omitempty"`
}

func (h *handlers) handleModel(w http.ResponseWriter, r *http.Request) {
	artifact := h.deps.Estimator.Artifact()
	resp := ModelResponse{
		RunID:     artifact.RunID,
		ModelType: artifact.ModelType,
		Target:    artifact.Target,
		Features:  artifact.Features.Names(),
		TrainedAt: artifact.TrainedAt,
	}

	if h.deps.Runs != nil {
		run, err := h.deps.Runs.LatestTrainingRun(r.Context())
		switch {
		case err == nil:
			resp.LatestRun = run
		case eris.Is(err, db.ErrNoRuns):
		default:
			h.deps.Logger.Warn("load latest training run", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMetrics serves JSON, or Prometheus text with ?format=prometheus.
func (h *handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "prometheus" {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		io.WriteString(w, h.deps.Metrics.ExportPrometheus())
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Metrics.Snapshot())
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classifyError(err)
	if status >= http.StatusInternalServerError {
		h.deps.Logger.Error("predict failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, status, body)
}

// classifyError maps predict failures to a status and client-facing body.
func classifyError(err error) (int, errorResponse) {
	var invalid *health.InvalidInputError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &invalid):
		return http.StatusUnprocessableEntity, errorResponse{Error: invalid.Error(), Field: invalid.Field}
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"}
	case eris.Is(err, health.ErrMalformed):
		return http.StatusBadRequest, errorResponse{Error: "request body is not a valid record"}
	case eris.Is(err, schema.ErrSchemaMismatch):
		return http.StatusInternalServerError, errorResponse{Error: "model schema does not match the record fields"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorResponse{Error: "request timeout"}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal server error"}
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode JSON", zap.Error(err))
	}
}
