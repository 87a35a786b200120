// Package api serves stored runs and encounters over HTTP: JSON endpoints,
// the HTML report and per-encounter plots.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/encounters.report/internal/db"
	"github.com/banshee-data/encounters.report/internal/httputil"
	"github.com/banshee-data/encounters.report/internal/monitoring"
	"github.com/banshee-data/encounters.report/internal/report"
)

// PlotPadding widens the plotted track window on both sides of an
// encounter.
const PlotPadding = time.Hour

type Server struct {
	db         *db.DB
	assetsHost string
}

// NewServer returns a server over db. An empty assetsHost uses the public
// echarts assets.
func NewServer(db *db.DB, assetsHost string) *Server {
	return &Server{db: db, assetsHost: assetsHost}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.showRun)
	mux.HandleFunc("GET /api/encounters", s.listEncounters)
	mux.HandleFunc("GET /api/stats", s.showStats)
	mux.HandleFunc("GET /report", s.showReport)
	mux.HandleFunc("GET /plot", s.showPlot)
	return mux
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs method, path, status and duration of each request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logger().Info("http request",
			"method", r.Method,
			"uri", r.RequestURI,
			"status", lrw.statusCode,
			"duration_ms", float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := httputil.QueryInt(r, "limit", 100)
	if !ok {
		httputil.BadRequest(w, "limit must be an integer")
		return
	}
	runs, err := s.db.ListRuns(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	httputil.WriteJSONOK(w, runs)
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.run(r, r.PathValue("id"))
	if err != nil {
		writeRunError(w, err)
		return
	}
	httputil.WriteJSONOK(w, run)
}

// run resolves a run id; "latest" or empty selects the newest run.
func (s *Server) run(r *http.Request, id string) (*db.Run, error) {
	if id == "" || id == "latest" {
		return s.db.LatestRun(r.Context())
	}
	return s.db.GetRun(r.Context(), id)
}

func writeRunError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrRunNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.InternalServerError(w, err.Error())
}

func parseFilter(r *http.Request) (db.EncounterFilter, error) {
	q := r.URL.Query()
	f := db.EncounterFilter{
		Key:          q.Get("key"),
		RunID:        q.Get("run"),
		ModelVersion: q.Get("model_version"),
	}
	if v := q.Get("mmsi"); v != "" {
		mmsi, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, fmt.Errorf("invalid mmsi %q", v)
		}
		f.MMSI = mmsi
	}
	for name, dst := range map[string]*time.Time{"start": &f.Start, "end": &f.End} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, fmt.Errorf("invalid %s %q: want RFC3339", name, v)
			}
			*dst = t
		}
	}
	limit, ok := httputil.QueryInt(r, "limit", 0)
	if !ok {
		return f, fmt.Errorf("limit must be an integer")
	}
	f.Limit = limit
	return f, nil
}

func (s *Server) listEncounters(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	es, err := s.db.Encounters(r.Context(), f)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if es == nil {
		es = []db.StoredEncounter{}
	}
	httputil.WriteJSONOK(w, es)
}

type stats struct {
	Positions  db.PositionStats `json:"positions"`
	Encounters map[string]int64 `json:"encounters_by_model_version"`
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	ps, err := s.db.PositionStats(r.Context())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	counts, err := s.db.EncounterCounts(r.Context())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, stats{Positions: ps, Encounters: counts})
}

func (s *Server) showReport(w http.ResponseWriter, r *http.Request) {
	run, err := s.run(r, r.URL.Query().Get("run"))
	if err != nil {
		writeRunError(w, err)
		return
	}
	es, err := s.db.Encounters(r.Context(), db.EncounterFilter{RunID: run.ID})
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err = report.Render(w, db.Plain(es), report.Options{
		Title:      fmt.Sprintf("Encounters, run %s", run.ID),
		AssetsHost: s.assetsHost,
	})
	if err != nil {
		monitoring.Logger().Warn("failed to render report", "run_id", run.ID, "err", err)
	}
}

func (s *Server) showPlot(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		httputil.BadRequest(w, "key is required")
		return
	}
	es, err := s.db.Encounters(r.Context(), db.EncounterFilter{Key: key})
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if len(es) == 0 {
		httputil.NotFound(w, "encounter not found")
		return
	}
	e := es[0]

	from, to := e.StartTime.Add(-PlotPadding), e.EndTime.Add(PlotPadding)
	track1, err := s.db.AnnotatedTrack(r.Context(), e.RunID, e.Vessel1, from, to)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	track2, err := s.db.AnnotatedTrack(r.Context(), e.RunID, e.Vessel2, from, to)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%s", report.PlotFileName(e.Encounter)))
	if err := report.WritePlot(w, e.Encounter, track1, track2); err != nil {
		monitoring.Logger().Warn("failed to render plot", "encounter_key", key, "err", err)
	}
}
