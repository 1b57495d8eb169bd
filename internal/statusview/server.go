// Package statusview implements the read-only status view spec.md §1
// calls for: an html/template dashboard over the Queue Store's live
// pending/queued/running state for every configured pipeline, and a
// per-pipeline detail page. It never mutates the Queue Store; it is a
// pure read model sitting beside the dispatcher.
package statusview

import (
	"embed"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/lucasnoah/aelitaqueue/internal/config"
	"github.com/lucasnoah/aelitaqueue/internal/ids"
	"github.com/lucasnoah/aelitaqueue/internal/log"
	"github.com/lucasnoah/aelitaqueue/internal/queuestore"
)

//go:embed templates
var templateFS embed.FS

var funcMap = template.FuncMap{
	"badgeClass": func(phase string) string {
		return "badge badge-" + strings.ReplaceAll(phase, "_", "-")
	},
}

func mustParse(names ...string) *template.Template {
	patterns := make([]string, len(names))
	for i, n := range names {
		patterns[i] = "templates/" + n
	}
	return template.Must(template.New("").Funcs(funcMap).ParseFS(templateFS, patterns...))
}

// Server is the read-only status view HTTP server.
type Server struct {
	store     queuestore.Store
	pipelines []config.PipelineConfig
	logger    *log.Logger

	dashboardTmpl *template.Template
	pipelineTmpl  *template.Template
}

// NewServer builds a Server reading live state from store for every
// pipeline in pipelines.
func NewServer(store queuestore.Store, pipelines []config.PipelineConfig, logger *log.Logger) *Server {
	return &Server{
		store:         store,
		pipelines:     pipelines,
		logger:        logger,
		dashboardTmpl: mustParse("base.html", "dashboard.html"),
		pipelineTmpl:  mustParse("base.html", "pipeline.html"),
	}
}

// Handler returns the http.Handler serving the dashboard and per-pipeline
// detail pages.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleDashboard)
	mux.HandleFunc("GET /pipeline/{id}", s.handlePipeline)
	return mux
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	rows := make([]PipelineRow, 0, len(s.pipelines))
	for _, cfg := range s.pipelines {
		row, err := buildPipelineRow(s.store, cfg)
		if err != nil {
			s.logger.Error("statusview: building pipeline row", "pipeline", cfg.ID, "error", err.Error())
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		rows = append(rows, row)
	}

	data := struct{ Pipelines []PipelineRow }{Pipelines: rows}
	if err := s.dashboardTmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		s.logger.Error("statusview: rendering dashboard", "error", err.Error())
	}
}

func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	rawID := r.PathValue("id")
	n, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		http.Error(w, "invalid pipeline id", http.StatusBadRequest)
		return
	}
	id := ids.PipelineID(n)

	cfg, ok := s.findPipeline(id)
	if !ok {
		http.Error(w, "unknown pipeline", http.StatusNotFound)
		return
	}

	detail, err := buildPipelineDetail(s.store, cfg)
	if err != nil {
		s.logger.Error("statusview: building pipeline detail", "pipeline", id.String(), "error", err.Error())
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := s.pipelineTmpl.ExecuteTemplate(w, "base.html", detail); err != nil {
		s.logger.Error("statusview: rendering pipeline detail", "error", err.Error())
	}
}

func (s *Server) findPipeline(id ids.PipelineID) (config.PipelineConfig, bool) {
	for _, cfg := range s.pipelines {
		if ids.PipelineID(cfg.ID) == id {
			return cfg, true
		}
	}
	return config.PipelineConfig{}, false
}

// ListenAndServe starts the status view on addr (e.g. ":8080").
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.Handler())
}
