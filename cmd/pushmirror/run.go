package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/agentworkforce/pushmirror/internal/credstore"
	"github.com/agentworkforce/pushmirror/internal/e2ee"
	"github.com/agentworkforce/pushmirror/internal/engine"
	"github.com/agentworkforce/pushmirror/internal/httpapi"
	"github.com/agentworkforce/pushmirror/internal/logutil"
	"github.com/agentworkforce/pushmirror/internal/notify"
	"github.com/agentworkforce/pushmirror/internal/stream"
)

type agentConfig struct {
	StreamURL      string
	RetryDelay     time.Duration
	RequestTimeout time.Duration
	KeyCacheTTL    time.Duration
	Service        string
	ControlAddr    string
	ControlToken   string
	Dial           stream.DialFunc
}

func agentConfigFromViper() agentConfig {
	return agentConfig{
		StreamURL:      viper.GetString("stream.url"),
		RetryDelay:     viper.GetDuration("stream.retry_delay"),
		RequestTimeout: 2 * viper.GetDuration("http.timeout"),
		KeyCacheTTL:    viper.GetDuration("e2ee.key_cache_ttl"),
		Service:        credentialService(),
		ControlAddr:    viper.GetString("control.addr"),
		ControlToken:   viper.GetString("control.token"),
	}
}

// credentialWatcher is implemented by stores that can report changes.
type credentialWatcher interface {
	Watch(ctx context.Context, logger *slog.Logger, onChange func()) error
}

// agentControl exposes the running engine to the control server.
type agentControl struct {
	*engine.Engine
	reload func()
}

func (c agentControl) ReloadCredentials() {
	c.reload()
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Mirror notifications until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			store, err := openCredentialStore()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runAgent(ctx, agentConfigFromViper(), engine.Options{
				API:       apiClientFromViper(),
				Presenter: notify.NewLogPresenter(logger.With("component", "presenter")),
				Logger:    logger,
			}, store)
		},
	}
	cmd.Flags().String("control-addr", "", "Serve the local control API on this address (disabled when empty).")
	_ = viper.BindPFlag("control.addr", cmd.Flags().Lookup("control-addr"))
	return cmd
}

// runAgent runs the engine with credentials from store until ctx is done.
// Stores that can be watched are re-read whenever they change.
func runAgent(ctx context.Context, cfg agentConfig, opts engine.Options, store credstore.Store) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
		opts.Logger = logger
	}
	opts.Stream.URL = cfg.StreamURL
	opts.Stream.RetryDelay = cfg.RetryDelay
	if cfg.Dial != nil {
		opts.Stream.Dial = cfg.Dial
	}
	opts.RequestTimeout = cfg.RequestTimeout
	if opts.KeyCache == nil {
		opts.KeyCache = e2ee.NewKeyCache(cfg.KeyCacheTTL)
	}
	onStatus := opts.OnStatus
	opts.OnStatus = func(st engine.Status) {
		logger.Info("status", "state", st.String(), "e2ee", st.E2EE)
		if onStatus != nil {
			onStatus(st)
		}
	}

	var listener net.Listener
	if cfg.ControlAddr != "" {
		l, err := net.Listen("tcp", cfg.ControlAddr)
		if err != nil {
			return err
		}
		listener = l
	}
	eng, err := engine.New(opts)
	if err != nil {
		if listener != nil {
			_ = listener.Close()
		}
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return eng.Run(gctx)
	})

	apply := func() {
		applyCredentials(eng, store, cfg.Service, logger)
	}
	apply()

	if w, ok := store.(credentialWatcher); ok {
		g.Go(func() error {
			if err := w.Watch(gctx, logger.With("component", "credstore"), apply); err != nil {
				logger.Warn("credential watch unavailable", "error", err)
			}
			return nil
		})
	}

	if listener != nil {
		logger.Info("control api listening", "addr", listener.Addr().String())
		srv := &http.Server{
			Handler: httpapi.NewServerWithConfig(agentControl{Engine: eng, reload: apply}, httpapi.ServerConfig{
				Token: cfg.ControlToken,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("pushmirror stopped")
	return nil
}

func applyCredentials(eng *engine.Engine, store credstore.Store, service string, logger *slog.Logger) {
	creds, err := credstore.Load(store, service)
	if err != nil {
		logger.Warn("read credentials failed", "error", err)
		return
	}
	if creds.AccessToken == "" {
		logger.Info("no access token stored; run `pushmirror token set`")
		eng.ClearAccessToken()
	} else {
		eng.SetAccessToken(creds.AccessToken)
	}
	if creds.E2EESecret == "" {
		eng.ClearE2EESecret()
	} else {
		eng.SetE2EESecret(creds.E2EESecret)
	}
}
