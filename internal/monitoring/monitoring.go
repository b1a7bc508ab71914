package monitoring

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nuha.dev/locagent/internal/agent"
	"nuha.dev/locagent/internal/gps"
	"nuha.dev/locagent/internal/util"
)

type MonitoringConfig struct {
	ListenAddr string
}

// MonitoringServer exposes the agent's runtime state over local HTTP for
// operators and the UI layer.
type MonitoringServer struct {
	agent  *agent.Agent
	src    *gps.Source
	r      chi.Router
	server *http.Server
	log    zerolog.Logger
}

func NewMonApi(a *agent.Agent, src *gps.Source, config *MonitoringConfig) *MonitoringServer {
	m := &MonitoringServer{agent: a, src: src}
	m.log = log.With().Str("module", "monitoring").Logger()
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))
	r.Use(middleware.Recoverer)
	r.Get("/status", m.status)
	r.Get("/stats", m.stats)
	r.Get("/location/current", m.current)
	m.r = r
	m.server = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return m
}

func (m *MonitoringServer) Run() {
	err := m.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(err)
	}
}

func (m *MonitoringServer) Shutdown() error {
	return m.server.Close()
}

func (m *MonitoringServer) GetHandler() http.Handler {
	return m.r
}

func (m *MonitoringServer) status(w http.ResponseWriter, r *http.Request) {
	util.JsonWrite(w, m.agent.Status())
}

func (m *MonitoringServer) stats(w http.ResponseWriter, r *http.Request) {
	util.JsonWrite(w, m.agent.Status().Stats)
}

func (m *MonitoringServer) current(w http.ResponseWriter, r *http.Request) {
	smp, ok := m.src.Current()
	if !ok {
		http.Error(w, "no fix", http.StatusNotFound)
		return
	}
	d, err := smp.MarshalVerbose()
	if err != nil {
		m.log.Error().Err(err).Msg("marshal current fix")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(d)
}
