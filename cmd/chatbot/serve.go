package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nattskiftet/chatbot/internal/config"
	"github.com/nattskiftet/chatbot/internal/handler"
	"github.com/nattskiftet/chatbot/internal/handler/session"
	"github.com/nattskiftet/chatbot/internal/logging"
	"github.com/nattskiftet/chatbot/internal/metrics"
	"github.com/nattskiftet/chatbot/internal/service/agent"
	"github.com/nattskiftet/chatbot/internal/service/chat"
	"github.com/nattskiftet/chatbot/internal/service/widget"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the widget gateway",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Pretty)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	recorder := metrics.New()

	client := agent.NewClient(cfg.Agent.URL,
		agent.WithTimeout(cfg.Agent.Timeout),
		agent.WithObserver(recorder),
		agent.WithLogger(logger),
	)

	widgets := widget.NewRegistry(client, cfg.Widget.IdleTTL, widget.Options{
		Session:     cfg.Session.Chat(),
		RevealDelay: cfg.Reveal.Delay,
		MaxWidgets:  cfg.Widget.MaxWidgets,
		Logger:      logging.Component(logger, "session"),
		OnStatus: func(from, to chat.Status) {
			recorder.StatusChanged(string(from), string(to))
		},
	}, recorder.Widgets())
	defer widgets.CloseAll()

	janitorCtx, cancelJanitor := context.WithCancel(ctx)
	defer cancelJanitor()
	go widgets.Run(janitorCtx)

	router := handler.NewRouter(handler.Deps{
		Widgets:        widgets,
		Cookies:        session.NewCookieJar(cfg.Cookies),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimit:      cfg.Widget.RateLimit,
		RateBurst:      cfg.Widget.RateBurst,
		Metrics:        recorder,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().
		Str("addr", cfg.Server.Addr).
		Str("agent", cfg.Agent.URL).
		Str("language", cfg.Session.Language).
		Msg("chatbot gateway listening")
	return runServer(ctx, srv, cfg.Server.ShutdownTimeout)
}

func runServer(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
