package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/ptran/idla-person-reid/reid"
	"github.com/ptran/idla-person-reid/web"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a web page to monitor a training run",
	Long: `Watch the output directory of a train or evaluate command and serve the training stats, cumulative
match curves and network config, with live updates over a websocket and prometheus metrics at /metrics`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := globalConfig
		cfg.Mode = "serve"
		if err := cfg.Validate(); err != nil {
			log.WithError(err).Fatal("invalid config")
		}
		ctx, cancel := signalContext()
		defer cancel()
		if err := runServe(ctx, cfg); err != nil {
			log.WithError(err).Fatal("server failed")
		}
	},
}

func initServe() {
	rootCmd.AddCommand(serveCmd)
	flags := serveCmd.PersistentFlags()
	flags.StringVar(&globalConfig.Dir, "dir", ".", "run directory to monitor")
	flags.StringVar(&globalConfig.Kind, "kind", globalConfig.Kind, "dataset kind of the run: labeled or detected")
	flags.StringVar(&globalConfig.Addr, "addr", globalConfig.Addr, "address to listen on")
	flags.StringVar(&globalConfig.User, "user", "", "user name for basic authentication")
	flags.StringVar(&globalConfig.Password, "password", "", "password for basic authentication")
}

func runServe(ctx context.Context, cfg Config) error {
	run, err := web.NewRun(cfg.Dir, reid.ModelName(cfg.Kind))
	if err != nil {
		return err
	}
	t, err := web.NewTemplates(nil)
	if err != nil {
		return errors.Wrap(err, "parse templates")
	}
	var auth *web.AuthMiddleware
	if cfg.User != "" {
		mw := web.NewAuthMiddleware(cfg.User, cfg.Password)
		auth = &mw
	}
	srv := &http.Server{Addr: cfg.Addr, Handler: web.NewRouter(run, t, auth)}

	watchErr := make(chan error, 1)
	go func() { watchErr <- run.Watch(ctx) }()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("server shutdown")
		}
	}()
	log.Infof("serving web page at http://localhost%s", cfg.Addr)
	if err = srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "listen")
	}
	return <-watchErr
}
