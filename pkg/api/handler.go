package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/mortalite/pkg/export"
	"github.com/hazyhaar/mortalite/pkg/geo"
	"github.com/hazyhaar/mortalite/pkg/importer"
	"github.com/hazyhaar/mortalite/pkg/kit"
	"github.com/hazyhaar/mortalite/pkg/query"
)

// DefaultMaxUpload bounds an import upload.
const DefaultMaxUpload = 512 << 20

// Config wires the router. Query is required; a nil Engine disables
// imports and a nil Geo disables the boundary endpoint.
type Config struct {
	Query  *query.Service
	Engine *importer.Engine
	Geo    *geo.Provider
	Logger *slog.Logger

	// Token, when set, must be presented as a bearer token to import.
	Token string
	// MaxUpload bounds an import body in bytes; <= 0 means DefaultMaxUpload.
	MaxUpload int64
}

// NewRouter returns an http.Handler with all dashboard API routes.
func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxUpload <= 0 {
		cfg.MaxUpload = DefaultMaxUpload
	}
	h := &handler{
		eps:    endpoints(cfg.Query, cfg.Logger),
		svc:    cfg.Query,
		engine: cfg.Engine,
		geo:    cfg.Geo,
		logger: cfg.Logger,
		token:  cfg.Token,
		max:    cfg.MaxUpload,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/imports", h.requireToken(h.handleImport))
	mux.HandleFunc("GET /v1/imports", h.aggregate(epImports))
	mux.HandleFunc("GET /v1/stats", h.aggregate(epStats))
	mux.HandleFunc("GET /v1/years", h.aggregate(epYears))
	mux.HandleFunc("GET /v1/departments", h.aggregate(epDepartments))

	mux.HandleFunc("GET /v1/deaths/total", h.aggregate(epTotal))
	mux.HandleFunc("GET /v1/deaths/average-age", h.aggregate(epAverageAge))
	mux.HandleFunc("GET /v1/deaths/yoy", h.aggregate(epYoY))
	mux.HandleFunc("GET /v1/deaths/daily", h.aggregate(epDaily))
	mux.HandleFunc("GET /v1/deaths/heatmap", h.aggregate(epHeatmap))
	mux.HandleFunc("GET /v1/deaths/pyramid", h.aggregate(epPyramid))
	mux.HandleFunc("GET /v1/deaths/by-department", h.aggregate(epByDepartment))
	mux.HandleFunc("GET /v1/deaths/by-year", h.aggregate(epByYear))
	mux.HandleFunc("GET /v1/deaths/monthly", h.aggregate(epMonthly))
	mux.HandleFunc("GET /v1/deaths/sex-split", h.aggregate(epSexSplit))

	mux.HandleFunc("GET /v1/age-trends", h.aggregate(epAgeTrends))
	mux.HandleFunc("GET /v1/age-trends/summary", h.aggregate(epAgeSummary))
	mux.HandleFunc("GET /v1/age-trends/median", h.aggregate(epMedianAge))
	mux.HandleFunc("GET /v1/age-trends/most-affected", h.aggregate(epMostAffected))
	mux.HandleFunc("GET /v1/age-trends/export", h.handleExport)

	mux.HandleFunc("GET /v1/geojson", h.handleGeoJSON)
	mux.HandleFunc("GET /v1/health", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return cors(requestID(instrument(mux, cfg.Logger)))
}

type handler struct {
	eps    map[string]kit.Endpoint
	svc    *query.Service
	engine *importer.Engine
	geo    *geo.Provider
	logger *slog.Logger
	token  string
	max    int64
}

// --- aggregates ---

func (h *handler) aggregate(name string) http.HandlerFunc {
	ep := h.eps[name]
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := parseAggregate(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		resp, err := ep(r.Context(), req)
		if err != nil {
			writeEndpointError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// parseAggregate reads filters and aggregate options from the query string:
// year, month, dept, sex, age_min, age_max, years (comma-separated), bucket
// and limit.
func parseAggregate(r *http.Request) (*aggregateReq, error) {
	q := r.URL.Query()
	req := &aggregateReq{}
	var err error

	intParam := func(key string) int {
		v := q.Get(key)
		if v == "" || err != nil {
			return 0
		}
		n, perr := strconv.Atoi(v)
		if perr != nil {
			err = fmt.Errorf("invalid %s: %q", key, v)
		}
		return n
	}
	floatParam := func(key string) (float64, bool) {
		v := q.Get(key)
		if v == "" || err != nil {
			return 0, false
		}
		f, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			err = fmt.Errorf("invalid %s: %q", key, v)
			return 0, false
		}
		return f, true
	}

	req.Filters.Year = intParam("year")
	req.Filters.Month = intParam("month")
	req.Filters.Sex = intParam("sex")
	req.Filters.Department = strings.TrimSpace(q.Get("dept"))
	req.Bucket = intParam("bucket")
	req.Limit = intParam("limit")

	lo, hasLo := floatParam("age_min")
	hi, hasHi := floatParam("age_max")
	if hasLo || hasHi {
		if !hasHi {
			hi = 200
		}
		req.Filters.Ages = &query.AgeRange{Min: lo, Max: hi}
	}

	if v := q.Get("years"); v != "" && err == nil {
		for _, s := range strings.Split(v, ",") {
			n, perr := strconv.Atoi(strings.TrimSpace(s))
			if perr != nil {
				return nil, fmt.Errorf("invalid years: %q", v)
			}
			req.Years = append(req.Years, n)
		}
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// --- import ---

type importResponse struct {
	Results []importer.Result `json:"results"`
}

func (h *handler) handleImport(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "imports disabled")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.max)

	data, name, err := readUpload(r)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload larger than %d bytes", mbe.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := h.engine.ImportData(r.Context(), data, name, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	code := http.StatusUnprocessableEntity
	for _, res := range results {
		if res.OK() {
			code = http.StatusOK
			break
		}
	}
	writeJSON(w, code, importResponse{Results: results})
}

// readUpload accepts a multipart form with a "file" part, or a raw body
// named by the filename query parameter.
func readUpload(r *http.Request) ([]byte, string, error) {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "multipart/form-data" {
		f, fh, err := r.FormFile("file")
		if err != nil {
			return nil, "", fmt.Errorf("missing file part: %w", err)
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, "", err
		}
		return data, fh.Filename, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", errors.New("empty body")
	}
	name := r.URL.Query().Get("filename")
	if name == "" {
		name = "upload.csv"
	}
	return data, name, nil
}

// requireToken guards next with the configured bearer token, if any.
func (h *handler) requireToken(next http.HandlerFunc) http.HandlerFunc {
	if h.token == "" {
		return next
	}
	want := []byte("Bearer " + h.token)
	return func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next(w, r)
	}
}

// --- export ---

func (h *handler) handleExport(w http.ResponseWriter, r *http.Request) {
	req, err := parseAggregate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := h.eps[epAgeTrends](r.Context(), req)
	if err != nil {
		writeEndpointError(w, err)
		return
	}
	bucket := req.Bucket
	if bucket < 1 {
		bucket = query.DefaultBucketSize
	}
	data, err := export.AgeTrends(resp.([]query.AgeYearRow), bucket)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="tendances_age.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// --- geojson ---

func (h *handler) handleGeoJSON(w http.ResponseWriter, r *http.Request) {
	if h.geo == nil {
		writeError(w, http.StatusServiceUnavailable, "geojson unavailable")
		return
	}
	data, err := h.geo.Get(r.Context())
	if err != nil {
		h.logger.Warn("geojson unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "geojson unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// --- health ---

type healthResponse struct {
	Status       string `json:"status"`
	TotalRecords int64  `json:"total_records"`
	Imports      int64  `json:"imports"`
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.DatabaseStats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:       "ok",
		TotalRecords: st.TotalRecords,
		Imports:      st.Imports,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeEndpointError(w http.ResponseWriter, err error) {
	if isRequestError(err) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
