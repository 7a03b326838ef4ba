package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jeeprep/mocktest/internal/attempt"
	"github.com/jeeprep/mocktest/internal/handler"
	appI18n "github.com/jeeprep/mocktest/internal/i18n"
	"github.com/jeeprep/mocktest/internal/scoring"
	"github.com/jeeprep/mocktest/internal/selector"
	"github.com/jeeprep/mocktest/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mocktest",
		Short: "JEE mock-test exam engine",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), exportCmd(), sweepCmd(), simulateCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `mocktest --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// dbFlags registers the database flags shared by commands that open the store.
func dbFlags(f *pflag.FlagSet) {
	f.String("db-driver", "sqlite", "Database driver (sqlite, postgres)")
	f.String("db", "mocktest.db", "SQLite path or Postgres DSN")
}

func logFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	dbFlags(f)
	f.StringSliceP("questions", "q", nil, "Questions JSON files to import on startup (repeatable)")
	f.StringP("lang", "l", "en", "Default message language (en, hi)")
	f.StringSlice("allowed-origins", []string{"http://localhost:3000"}, "CORS allowed origins")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /jee)")
	f.Duration("request-timeout", 30*time.Second, "Per-request timeout (0 disables)")
	f.Bool("access-log", true, "Log every HTTP request")
	f.Duration("retry-after", 30*time.Second, "Retry-After advertised when the question pool is exhausted")
	f.Uint64("seed", 0, "Selector random seed (0 = time based)")
	f.Int("chapter-cap", 2, "Maximum questions per chapter and subject")
	f.Int("soft-cap-factor", 2, "Chapter cap multiplier during backfill")
	f.Int("min-total", 30, "Minimum paper size before a start is refused")
	f.Duration("sweep-interval", 5*time.Minute, "How often expired attempts are abandoned (0 disables)")
	f.Duration("sweep-grace", 10*time.Minute, "Grace period after the deadline before abandoning")
	logFlags(f)
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("MOCKTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("mocktest")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/mocktest")
	v.AddConfigPath("/etc/mocktest")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func openStore(ctx context.Context, v *viper.Viper) (*store.Store, error) {
	db, err := store.Open(ctx, store.Driver(v.GetString("db-driver")), v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func selectorConfig(v *viper.Viper) selector.Config {
	cfg := selector.DefaultConfig()
	cfg.ChapterCap = v.GetInt("chapter-cap")
	cfg.SoftCapFactor = v.GetInt("soft-cap-factor")
	cfg.MinTotal = v.GetInt("min-total")
	return cfg
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	if paths := v.GetStringSlice("questions"); len(paths) > 0 {
		if err := importQuestions(ctx, db, paths); err != nil {
			return fmt.Errorf("import questions: %w", err)
		}
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	seed := v.GetUint64("seed")
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	sel := selector.NewSeeded(db, selectorConfig(v), seed)
	svc := attempt.New(db, sel, scoring.New(scoring.DefaultScheme()))

	h := handler.New(svc, db, handler.Config{RetryAfter: v.GetDuration("retry-after")})
	router := handler.NewRouter(h, handler.RouterOptions{
		Lang:           lang,
		AllowedOrigins: v.GetStringSlice("allowed-origins"),
		BasePath:       v.GetString("base-path"),
		RequestTimeout: v.GetDuration("request-timeout"),
		AccessLog:      v.GetBool("access-log"),
	})

	if interval := v.GetDuration("sweep-interval"); interval > 0 {
		go sweepLoop(ctx, svc, interval, v.GetDuration("sweep-grace"))
	}

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	slog.Info("starting server",
		"addr", addr,
		"db_driver", v.GetString("db-driver"),
		"lang", lang,
		"base_path", v.GetString("base-path"),
		"chapter_cap", v.GetInt("chapter-cap"),
		"soft_cap_factor", v.GetInt("soft-cap-factor"),
		"min_total", v.GetInt("min-total"),
	)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// sweepLoop abandons expired attempts until ctx is done.
func sweepLoop(ctx context.Context, svc *attempt.Service, interval, grace time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.Sweep(ctx, grace); err != nil {
				slog.Error("sweep failed", "error", err)
			}
		}
	}
}
