package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tgauth/internal/api"
	"tgauth/internal/auth"
	"tgauth/internal/config"
	"tgauth/internal/logger"
	"tgauth/internal/tgbot"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfg config.Config
		log *zap.Logger
	)

	root := &cobra.Command{
		Use:           "tgauth",
		Short:         "Telegram Mini App authentication service",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional; real environment wins
			_ = godotenv.Load()
			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}
			log = logger.New(logger.Config{Env: cfg.Env, Level: cfg.LogLevel, Service: "tgauth"})
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if log != nil {
				_ = log.Sync()
			}
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and the bot when RUN_BOT=true)",
		Long: "Run the HTTP API. The postgres and libsql stores need the users table:\n" +
			"run `tgauth migrate` first or set MIGRATE_ON_START=true.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}

	botCmd := &cobra.Command{
		Use:   "bot",
		Short: "Run only the Telegram bot listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()
			return runBot(ctx, a)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the users table",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := migrate(cmd.Context(), cfg); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info("migrations applied", zap.String("driver", cfg.StoreDriver))
			return nil
		},
	}

	root.AddCommand(serveCmd, botCmd, migrateCmd, newTokenCmd(&cfg))
	return root
}

func newTokenCmd(cfg *config.Config) *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Development helpers for init data and session tokens",
	}

	var (
		userJSON string
		botToken string
		authDate int64
		queryID  string
	)
	signCmd := &cobra.Command{
		Use:   "sign-initdata",
		Short: "Print a signed init-data string for the given user",
		RunE: func(cmd *cobra.Command, args []string) error {
			token := botToken
			if token == "" {
				token = cfg.BotToken
			}
			if token == "" {
				return errors.New("bot token is required (--bot-token or TELEGRAM_BOT_TOKEN)")
			}
			when := time.Now()
			if authDate > 0 {
				when = time.Unix(authDate, 0)
			}
			extra := map[string]string{}
			if queryID != "" {
				extra["query_id"] = queryID
			}
			fmt.Fprintln(cmd.OutOrStdout(), signInitData(token, userJSON, when, extra))
			return nil
		},
	}
	signCmd.Flags().StringVar(&userJSON, "user", `{"id":1,"first_name":"Dev"}`, "user object as JSON")
	signCmd.Flags().StringVar(&botToken, "bot-token", "", "bot token (default TELEGRAM_BOT_TOKEN)")
	signCmd.Flags().Int64Var(&authDate, "auth-date", 0, "auth_date as unix seconds (default now)")
	signCmd.Flags().StringVar(&queryID, "query-id", "", "optional query_id field")

	inspectCmd := &cobra.Command{
		Use:   "inspect <jwt>",
		Short: "Validate a session token and print its claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			iss, err := auth.NewTokenIssuer(cfg.SecretKey, cfg.Algorithm, cfg.TokenTTL, cfg.TokenIssuer)
			if err != nil {
				return err
			}
			claims, err := iss.Parse(args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(claims, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	tokenCmd.AddCommand(signCmd, inspectCmd)
	return tokenCmd
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	limiter, err := a.limiter()
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(api.Deps{
			Resolver:     a.resolver,
			Log:          log,
			Metrics:      a.metrics,
			Limiter:      limiter,
			CORSOrigins:  cfg.CORSOrigins,
			MaxBodyBytes: cfg.MaxBodyBytes,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if cfg.RunBot {
		go func() {
			if err := runBot(ctx, a); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error("server stopped", zap.Error(err))
		return err
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server exited")
	return nil
}

func runBot(ctx context.Context, a *app) error {
	b, err := tgbot.New(a.cfg.BotToken, a.cfg.WebappURL, a.resolver, a.log)
	if err != nil {
		return fmt.Errorf("telegram bot: %w", err)
	}
	a.log.Info("telegram bot polling")
	b.Run(ctx)
	return nil
}
