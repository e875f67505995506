package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"presip-lab/server/internal/app"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP + websocket server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("host", "", "listen host, overrides config")
	serveCmd.Flags().Int("port", 0, "listen port, overrides config")
	viper.BindPFlag("host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if host := viper.GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port := viper.GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}

	log, err := connectLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	a.StartJanitor(ctx)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      a.Server().Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Logger(ctx).Info("[Main] server listening",
			zap.String("addr", srv.Addr),
			zap.String("simulator", cfg.Simulator.Mode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	stop()

	log.Logger(ctx).Info("[Main] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Logger(shutdownCtx).Info("[Main] server stopped")
	return nil
}
