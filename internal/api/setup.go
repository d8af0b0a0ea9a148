package api

import (
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

type RouterConfig struct {
	Registry       Registry
	Sessions       SessionHandler
	Rooms          RoomCounter
	Stats          StatsSource
	Client         ClientOptions
	AllowedOrigins []string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()
	r.Handle("/ws", NewWsHandler(cfg.Registry, cfg.Sessions, cfg.Client, cfg.AllowedOrigins)).Methods(http.MethodGet)
	r.HandleFunc("/health", HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/stats", StatsHandler(cfg.Rooms, cfg.Stats)).Methods(http.MethodGet)
	r.Use(accessLog)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost}),
	)
	return handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{}))(cors(r))
}

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	log.Error().Interface("panic", v).Msg("recovered from panic")
}
