package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	blivedm "github.com/c-basalt/blivedm-dump"
	"github.com/c-basalt/blivedm-dump/bootstrap/web"
	"github.com/c-basalt/blivedm-dump/dump"
	"github.com/c-basalt/blivedm-dump/internal/logging"
	"github.com/c-basalt/blivedm-dump/metrics"
)

func runCmd() *cobra.Command {
	var (
		configPath string
		listen     string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to every room in the room file and dump its chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadFileConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.HTTP.Listen = listen
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = logLevel
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config file")
	cmd.Flags().StringVar(&listen, "listen", "", "Address of the status and metrics server, e.g. :9090")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	return cmd
}

// app holds everything run builds, so it can be torn down in reverse order.
type app struct {
	log       *slog.Logger
	registry  *prometheus.Registry
	store     *blivedm.CredentialStore
	sinks     []dump.Sink
	handlers  []*dump.Handler
	db        *sql.DB
	archiver  *dump.Archiver
	super     *dump.Supervisor
	reloader  *dump.CookieReloader
	clientCfg blivedm.Config
}

func run(ctx context.Context, cfg fileConfig) error {
	a := &app{
		log: logging.New(logging.Config{
			Level:  logging.ParseLevel(cfg.Log.Level),
			Format: logging.ParseFormat(cfg.Log.Format),
		}),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a.clientCfg = cfg.clientConfig()
	a.clientCfg.Logger = a.log
	a.clientCfg.Metrics = metrics.New(metrics.WithRegistry(a.registry))

	if err := a.setupCredentials(ctx, cfg); err != nil {
		return err
	}
	if err := a.setupSinks(ctx, cfg); err != nil {
		a.closeSinks()
		return err
	}
	defer a.shutdown()

	super, err := dump.NewSupervisor(dump.SupervisorConfig{
		NewClient:    a.newClient,
		Handler:      a.handlers[0],
		GuestHandler: a.guestHandler(),
		Logger:       a.log,
	})
	if err != nil {
		return err
	}
	a.super = super

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.super.Run(ctx, cfg.RoomsFile, cfg.ReloadInterval)
	})
	if a.reloader != nil {
		g.Go(func() error { return a.reloader.Run(ctx) })
	}
	if a.archiver != nil {
		g.Go(func() error { return a.archiver.Run(ctx) })
	}
	if cfg.HTTP.Listen != "" {
		g.Go(func() error { return a.serveStatus(ctx, cfg.HTTP.Listen) })
	}

	a.log.Info("dump started", "rooms_file", cfg.RoomsFile, "dir", cfg.Output.Dir)
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func (a *app) setupCredentials(ctx context.Context, cfg fileConfig) error {
	a.store = blivedm.NewCredentialStore(nil)
	if cfg.CookieFile == "" {
		return nil
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	a.reloader = &dump.CookieReloader{
		Store: a.store,
		Load:  func() (map[string]string, error) { return web.LoadCookieFile(cfg.CookieFile) },
		Validate: func(ctx context.Context, cookies map[string]string) (bool, error) {
			return web.ValidateCookies(ctx, httpClient, web.DefaultNavURL, cookies)
		},
		Interval: cfg.CookieReloadInterval,
		Logger:   a.log,
	}
	// An invalid file at startup is not fatal: rooms are joined anonymously
	// until a later reload succeeds.
	if err := a.reloader.Reload(ctx); err != nil {
		a.log.Warn("initial cookie load failed", "file", cfg.CookieFile, "error", err)
	}
	return nil
}

func (a *app) setupSinks(ctx context.Context, cfg fileConfig) error {
	var onRotate func(string)
	if cfg.S3.Bucket != "" {
		a.archiver = dump.NewArchiver(newS3Client(cfg), dump.ArchiveConfig{
			Bucket:      cfg.S3.Bucket,
			Prefix:      cfg.S3.Prefix,
			RemoveLocal: cfg.S3.RemoveLocal,
			Logger:      a.log,
		})
		onRotate = a.archiver.Submit
	}

	newFileSink := func(prefix string) (*dump.FileSink, error) {
		return dump.NewFileSink(dump.FileConfig{
			Dir:      cfg.Output.Dir,
			Prefix:   cfg.Output.Prefix + prefix,
			OnRotate: onRotate,
			Logger:   a.log,
		})
	}

	login, err := newFileSink("")
	if err != nil {
		return err
	}
	a.sinks = append(a.sinks, login)
	var loginSink dump.Sink = login

	if cfg.Postgres.DSN != "" {
		db, err := dump.OpenPostgres(cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		a.db = db
		pg, err := dump.NewPostgresSink(ctx, db, cfg.Postgres.Table)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		loginSink = dump.NewMultiSink(login, pg)
	}

	var echo io.Writer
	if cfg.Output.Echo {
		echo = os.Stdout
	}
	loginCfg := cfg.handlerConfig()
	loginCfg.Echo = echo
	loginCfg.Logger = a.log
	a.handlers = append(a.handlers, dump.NewHandler(loginSink, loginCfg))

	if cfg.Guest {
		guest, err := newFileSink(cfg.Output.GuestPrefix)
		if err != nil {
			return err
		}
		a.sinks = append(a.sinks, guest)
		guestCfg := cfg.handlerConfig()
		guestCfg.Logger = a.log.With("guest", true)
		a.handlers = append(a.handlers, dump.NewHandler(guest, guestCfg))
	}
	return nil
}

func (a *app) guestHandler() blivedm.Handler {
	if len(a.handlers) < 2 {
		return nil
	}
	return a.handlers[1]
}

func (a *app) newClient(room int64, guest bool) (*blivedm.Client, error) {
	boot := web.Config{
		RoomID: room,
		Logger: a.log,
	}
	if !guest {
		boot.Credentials = a.store
	}
	return blivedm.NewClient(a.clientCfg, web.New(boot))
}

func (a *app) serveStatus(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           dump.NewStatusRouter(a.super, a.registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.log.Info("status server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// shutdown drains the handlers before closing the sinks they write to.
// Supervisor.Run has already stopped every client when it returns.
func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), dump.DefaultStopTimeout)
	defer cancel()
	for _, h := range a.handlers {
		if err := h.Close(ctx); err != nil {
			a.log.Warn("handler drain incomplete", "error", err)
		}
		written, failed := h.Stats()
		a.log.Info("handler closed", "written", written, "failed", failed)
	}
	a.closeSinks()
}

func (a *app) closeSinks() {
	for _, s := range a.sinks {
		if err := s.Close(); err != nil {
			a.log.Warn("close sink", "error", err)
		}
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func newS3Client(cfg fileConfig) *s3.Client {
	opts := s3.Options{
		Region:       cfg.S3.Region,
		UsePathStyle: cfg.S3.PathStyle,
		Credentials:  aws.NewCredentialsCache(aws.CredentialsProviderFunc(envCredentials)),
	}
	if cfg.S3.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.S3.Endpoint)
	}
	return s3.New(opts)
}

// envCredentials reads the standard AWS_* variables.
func envCredentials(context.Context) (aws.Credentials, error) {
	id, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")
	if id == "" || secret == "" {
		return aws.Credentials{}, errors.New("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set")
	}
	return aws.Credentials{
		AccessKeyID:     id,
		SecretAccessKey: secret,
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		Source:          "environment",
	}, nil
}
