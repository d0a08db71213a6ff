package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/emmalab/fogsim/internal/config"
	"github.com/emmalab/fogsim/internal/emma"
	"github.com/emmalab/fogsim/internal/metrics"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	godotenv.Load()

	configPath := flag.String("config", envOr("FOGSIM_CONFIG", "config.yaml"), "base configuration file")
	profilesPath := flag.String("profiles", envOr("FOGSIM_PROFILES", "profiles.yaml"), "profile overrides file")
	profile := flag.String("profile", envOr("FOGSIM_PROFILE", ""), "configuration profile to run")
	batch := flag.Int("batch", 1, "number of runs with consecutive seeds")
	traceDir := flag.String("trace", "", "write CSV message traces to this directory")
	vivaldi := flag.Bool("vivaldi", false, "enable Vivaldi network coordinates")
	seed := flag.Uint64("seed", 0, "override the random seed")
	minutes := flag.Int("minutes", 0, "override the simulation horizon in minutes")
	metricsAddr := flag.String("metrics-addr", envOr("FOGSIM_METRICS_ADDR", ""), "serve Prometheus metrics on this address")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := logrus.WithField("component", "fogsim")

	var manager *config.Manager
	if _, err := os.Stat(*configPath); err == nil {
		manager, err = config.NewManager(*configPath, *profilesPath)
		if err != nil {
			log.WithError(err).Fatal("loading configuration")
		}
	} else {
		manager = config.NewManagerFromConfig(config.Default())
	}

	cfg := manager.Get(*profile)
	if *traceDir != "" {
		cfg.Trace.Path = *traceDir
		cfg.Trace.History = true
	}
	if *vivaldi {
		cfg.Scenario.Vivaldi = true
	}
	if *seed != 0 {
		cfg.Scenario.Seed = *seed
	}
	if *minutes != 0 {
		cfg.Scenario.Minutes = *minutes
	}

	var m *metrics.Metrics
	if *metricsAddr != "" {
		m = metrics.Default()
		router := mux.NewRouter()
		router.Handle("/metrics", promhttp.Handler())
		go func() {
			log.Infof("serving metrics on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, router); err != nil {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := emma.NewRunner(config.NewManagerFromConfig(*cfg), m)
	results, err := runner.RunBatch(ctx, "", *batch)
	if err != nil {
		log.WithError(err).Fatal("batch failed")
	}

	for _, r := range results {
		fields := logrus.Fields{
			"run":       r.ID,
			"seed":      r.Seed,
			"simulated": r.SimulatedMs,
			"took":      r.Duration,
		}
		if r.TracePath != "" {
			fields["trace"] = r.TracePath
		}
		log.WithFields(fields).Info("run summary")
		for kind, count := range r.MessageCounts {
			log.Infof("  %-28s %d", kind, count)
		}
	}
}
