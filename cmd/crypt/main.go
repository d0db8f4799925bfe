// Package main provides the crypt binary: the brewery sign in service and
// its maintenance commands.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	auth "github.com/dudleytown/crypt-auth"
	"github.com/dudleytown/crypt-auth/activitymap"
	"github.com/dudleytown/crypt-auth/views"
)

const appName = "crypt"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Brewery sign in and route guard service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(serveCmd(), migrateCmd(), provisionCmd(), rolesCmd())
	return cmd
}

func serveCmd() *cobra.Command {
	var templatesDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, logger, closeDB, err := setup(ctx)
			if err != nil {
				return err
			}
			defer closeDB()
			defer svc.Close()

			engine := views.NewEngine(nil)
			if templatesDir != "" {
				engine = views.NewEngine(os.DirFS(templatesDir))
			}
			srv := svc.App(engine)

			go svc.Run(ctx)

			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", "addr", svc.Options.ListenAddr)
				errCh <- srv.Serve(svc.Options.ListenAddr)
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			case err := <-errCh:
				return err
			}
		},
	}

	cmd.Flags().StringVar(&templatesDir, "templates", "", "Serve templates from this directory instead of the embedded ones")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the identity and profile tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, logger, closeDB, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()
			defer svc.Close()

			logger.Info("schema ready")
			return nil
		},
	}
}

func provisionCmd() *cobra.Command {
	var (
		email       string
		password    string
		displayName string
		role        string
	)

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create a user with an identity and a profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, logger, closeDB, err := setup(ctx)
			if err != nil {
				return err
			}
			defer closeDB()
			defer svc.Close()

			cs, err := svc.Registry.Open(ctx, "")
			if err != nil {
				return err
			}
			defer svc.Registry.Remove(cs.ID)

			profile, err := cs.Manager.CreateUser(ctx, email, password, displayName, auth.UserRole(role))
			if err != nil {
				return fmt.Errorf("%s: %w", auth.CreateUserMessage(err), err)
			}

			logger.Info("user provisioned", "subject", profile.ID, "email", profile.Email, "role", profile.Role)
			fmt.Fprintln(cmd.OutOrStdout(), profile.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&password, "password", "", "Password")
	cmd.Flags().StringVar(&displayName, "name", "", "Display name")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleAdmin), "Role: admin, sales or production")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func rolesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "List the assignable roles",
		Run: func(cmd *cobra.Command, args []string) {
			for _, r := range auth.ListRoles() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", r.Value, r.Label)
			}
		},
	}
}

// setup loads options, opens the database, migrates it and builds the
// service
func setup(ctx context.Context) (*auth.Service, auth.Logger, func(), error) {
	opts, err := auth.LoadOptions()
	if err != nil {
		return nil, nil, nil, err
	}

	provider := auth.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(opts.LogLevel),
	})))
	logger := provider.GetLogger(appName)

	sqldb, err := sql.Open(sqliteshim.ShimName, opts.DatabaseDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	db := bun.NewDB(sqldb, sqlitedialect.New())
	closeDB := func() {
		if err := db.Close(); err != nil {
			logger.Error("close database", "error", err)
		}
	}

	svc := auth.NewService(opts, db, provider, activitymap.NewLogSink(provider.GetLogger("auth.activity")))
	if err := svc.Migrate(ctx); err != nil {
		closeDB()
		return nil, nil, nil, fmt.Errorf("migrate: %w", err)
	}

	return svc, logger, closeDB, nil
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
