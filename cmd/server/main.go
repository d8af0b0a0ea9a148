package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"
	"planning-poker-server/internal/api"
	"planning-poker-server/internal/config"
	"planning-poker-server/internal/core"
	"planning-poker-server/internal/gateway"
	"planning-poker-server/internal/hub"
	"planning-poker-server/internal/logging"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment variables")
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logging.Configure(cfg.Log, os.Stdout)
	loader.Watch(func(c config.Config) {
		logging.SetLevel(c.Log.Level)
	})

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := core.NewStore(core.WithPolicy(cfg.Rooms.Policy()))
	if err != nil {
		return err
	}
	broadcaster := hub.New()
	sessions := gateway.New(store, broadcaster, gateway.WithDeck(cfg.Poker.Deck))
	janitor := core.NewJanitor(store, cfg.Rooms.SweepInterval)

	router := api.NewRouter(api.RouterConfig{
		Registry: broadcaster,
		Sessions: sessions,
		Rooms:    store,
		Stats:    broadcaster,
		Client: api.ClientOptions{
			WriteTimeout:         cfg.WS.WriteTimeout,
			PongTimeout:          cfg.WS.PongTimeout,
			PingInterval:         cfg.WS.PingInterval,
			MaxMessageSize:       cfg.WS.MaxMessageSize,
			SendBuffer:           cfg.WS.SendBuffer,
			MaxMessagesPerSecond: cfg.WS.MaxMessagesPerSecond,
		},
		AllowedOrigins: cfg.WS.AllowedOrigins,
	})
	server := api.NewServer(cfg.Server.Addr(), router)

	var (
		wg       conc.WaitGroup
		serveErr = make(chan error, 1)
	)
	wg.Go(func() {
		janitor.Run(ctx)
	})
	wg.Go(func() {
		log.Info().Str("addr", server.Addr).Str("policy", cfg.Rooms.Policy().String()).Msg("server starting")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	})

	<-ctx.Done()
	log.Info().Msg("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	err = server.Shutdown(shutdownCtx)
	broadcaster.CloseAll()
	wg.Wait()
	store.Close()

	select {
	case e := <-serveErr:
		err = multierr.Append(e, err)
	default:
	}
	return err
}
