package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/spf13/pflag"

	router "github.com/dkeye/relay/internal/adapters/http"
	"github.com/dkeye/relay/internal/adapters/longpoll"
	"github.com/dkeye/relay/internal/adapters/rtc"
	sig "github.com/dkeye/relay/internal/adapters/signal"
	"github.com/dkeye/relay/internal/adapters/store"
	"github.com/dkeye/relay/internal/app"
	"github.com/dkeye/relay/internal/app/orch"
	"github.com/dkeye/relay/internal/config"
	"github.com/dkeye/relay/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	fs := config.Flags()
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal().Err(err).Msg("bad flags")
	}
	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	rtcCfg, err := rtc.WebRTCConfig(cfg.WebRTC.ICEServers)
	if err != nil {
		log.Fatal().Err(err).Msg("bad webrtc config")
	}

	var workers conc.WaitGroup
	var presence app.PresenceSink = app.NoopPresence{}
	if cfg.Redis.Enabled {
		client, err := store.Connect(ctx, cfg.Redis)
		switch {
		case err != nil && cfg.Redis.FailFast:
			log.Fatal().Err(err).Msg("redis unavailable")
		case err != nil:
			log.Warn().Err(err).Msg("redis unavailable, presence mirror disabled")
		default:
			defer client.Close()
			mirror := store.NewRedisPresence(client, cfg.Redis.PresenceTTL)
			workers.Go(func() { mirror.Run(ctx) })
			presence = mirror
		}
	}

	m := metrics.New()
	o := orch.New(orch.Options{
		Policy:     app.PolicyByName(cfg.Backpressure),
		Limiter:    app.NewRateLimiter(cfg.RateLimit.Events, cfg.RateLimit.Interval),
		Presence:   presence,
		Metrics:    m,
		ICEServers: rtc.ClientICEServers(rtcCfg),
	})

	ctl := sig.NewSignalWSController(o, cfg)
	poll := longpoll.NewManager(o, cfg)
	workers.Go(func() { poll.Reap(ctx) })

	r := router.SetupRouter(ctx, router.Deps{
		Config:  cfg,
		Orch:    o,
		Signal:  ctl,
		Poll:    poll,
		Metrics: m,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("relay server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	ctl.Wait()
	workers.Wait()
	log.Info().Msg("Server exited gracefully")
}
