// Command atmonochromator runs the monochromator component and serves it over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arloliu/go-monochromator/component"
	"github.com/arloliu/go-monochromator/config"
	"github.com/arloliu/go-monochromator/internal/api"
	"github.com/arloliu/go-monochromator/logger"
	"github.com/arloliu/go-monochromator/metrics"
	"github.com/arloliu/go-monochromator/motion"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "atmonochromator:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "configuration file (.yaml, .yml or .toml)")
	simulate := flag.Bool("simulate", false, "run against a simulated controller")
	listen := flag.String("listen", ":8080", "HTTP listen address")
	enable := flag.Bool("enable", false, "start and enable the component on launch")
	flag.Parse()

	cfg, err := loadConfig(*configPath, *simulate)
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.Level())
	l := logger.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comp, err := component.New(ctx, cfg,
		component.WithSimulation(*simulate),
		component.WithLogger(l),
		component.WithStateHandler(func(summary component.State, detailed component.DetailedState) {
			l.Info("state changed", "summary", summary.String(), "detailed", detailed.String())
		}),
		component.WithFaultHandler(func(code component.ErrorCode, report string) {
			l.Error("component fault", "code", code.String(), "report", report)
		}),
		component.WithProgressHandler(func(command string, r motion.Result) {
			l.Debug("command in progress", "command", command, "step", r.Step, "progress", r.Progress)
		}),
	)
	if err != nil {
		return err
	}
	defer comp.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	col, err := metrics.New(metrics.DefaultNamespace, metrics.Source{
		Controller: comp.Controller,
		State: func() (int, int) {
			s, d := comp.State()
			return int(s), int(d)
		},
	})
	if err != nil {
		return err
	}
	if err := col.Register(reg); err != nil {
		return err
	}

	if *enable {
		if err := comp.Start(ctx); err != nil {
			return err
		}
		if err := comp.Enable(ctx); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              *listen,
		Handler:           api.New(comp, reg, l).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("http server listening", "address", *listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		l.Info("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func loadConfig(path string, simulate bool) (*config.Config, error) {
	switch {
	case path != "":
		return config.Load(path)
	case simulate:
		return config.Simulation(), nil
	default:
		return config.Default(), nil
	}
}
