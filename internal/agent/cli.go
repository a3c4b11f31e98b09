package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"fleet-tracker/internal/client"
	"fleet-tracker/internal/config"
	"fleet-tracker/internal/logging"
	"fleet-tracker/internal/session"
)

// NewRootCommand creates the agent CLI
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Driver shift location tracking agent",
		Long: `Tracks the driver's position while a shift is running and reports it
to the fleet-tracker backend, queuing fixes while the network is down.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewLoginCommand())
	return cmd
}

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Serve the control API and track shifts",
		Long: `Start the agent. Shifts are driven through the local control API:

  curl -X POST http://127.0.0.1:7070/shift/start
  curl http://127.0.0.1:7070/status`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAgent()
			if err != nil {
				return err
			}
			logging.Setup(cfg.LogLevel, cfg.LogFormat)
			return run(cmd.Context(), cfg)
		},
	}
}

func run(parent context.Context, cfg config.Agent) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("🚀 Agent control API on http://%s", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control API failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.Shutdown(shutdownCtx)
	srv.Shutdown(shutdownCtx)
	log.Println("👋 Agent stopped")
	return nil
}

// NewLoginCommand creates the login command
func NewLoginCommand() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in as a driver and save the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAgent()
			if err != nil {
				return err
			}
			logging.Setup(cfg.LogLevel, cfg.LogFormat)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			token, err := client.New(cfg.APIBaseURL, nil).Login(ctx, email, password)
			if err != nil {
				return err
			}

			tokens := session.NewTokenStore(cfg.TokenFile)
			if err := tokens.Set(token); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as driver %s\n", tokens.DriverID())
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "driver email (required)")
	cmd.Flags().StringVar(&password, "password", "", "driver password (required)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
