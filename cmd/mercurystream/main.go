// Command mercurystream runs the real-time market-data processor: a framed
// TCP ingress, a fan-out Bus, anomaly forensics, flight recording, and the
// reference consumer set.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/tanayshah11/mercury-stream/internal/alerting"
	"github.com/tanayshah11/mercury-stream/internal/bus"
	"github.com/tanayshah11/mercury-stream/internal/config"
	"github.com/tanayshah11/mercury-stream/internal/consumers"
	"github.com/tanayshah11/mercury-stream/internal/flightrecorder"
	"github.com/tanayshah11/mercury-stream/internal/forensics"
	"github.com/tanayshah11/mercury-stream/internal/logging"
	"github.com/tanayshah11/mercury-stream/internal/metrics"
	"github.com/tanayshah11/mercury-stream/internal/server"
)

func main() {
	bootLog := logging.New(logging.Config{Level: "info", Format: "json"})

	cfg, err := config.Load(&bootLog)
	if err != nil {
		bootLog.Error().Err(err).Msg("failed to load configuration")
		os.Exit(2)
	}
	cfg.Print()

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	cfg.LogConfig(log)

	log.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("runtime configured")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.New()

	mirror := alerting.Connect(cfg.NATSUrl, log)
	defer mirror.Close()

	// detector is assigned below; the stats closure captures it by reference
	// since finalize() only runs once Process has been called at least once.
	var detector *forensics.Detector

	recorder := flightrecorder.New(
		flightrecorder.Config{
			Pre:           cfg.FlightPreEvents,
			Post:          cfg.FlightPostEvents,
			CooldownS:     cfg.FlightCooldownS,
			IncidentsRoot: cfg.IncidentsRoot,
		},
		func() flightrecorder.Stats {
			c := detector.Counters()
			return flightrecorder.Stats{
				Processed: c.Processed,
				Drift:     c.Drift,
				Dup:       c.Dup,
				OOO:       c.OOO,
				Gaps:      c.Gaps,
				Spikes:    c.Spikes,
			}
		},
		func(incidentType, symbol, triggeredAt string, preCount, postCount int) {
			mirror.Publish(alerting.Incident{
				Type:        incidentType,
				Symbol:      symbol,
				TriggeredAt: triggeredAt,
				PreCount:    preCount,
				PostCount:   postCount,
			})
		},
		log,
	)

	detector = forensics.New(forensics.Config{
		LatencyThresholdMs: cfg.LatencySpikeThresholdMs,
		DuplicateLRUMax:    cfg.DuplicateLRUMax,
		DriftSamplesFile:   cfg.DriftSamplesFile,
	}, recorder, log)
	defer detector.Close()

	if cfg.Forensics {
		forensicsSub := b.Subscribe("forensics", cfg.BusQueueCapacity)
		go logging.Guard(log, "forensics", func() { runForensics(ctx, forensicsSub, recorder, detector, log) })
	}

	vwap := consumers.NewVWAP(consumers.LogInterval, log)
	vwapSub := b.Subscribe("vwap", cfg.BusQueueCapacity)
	go logging.Guard(log, "vwap", func() { vwap.Run(ctx, vwapSub) })

	volatility := consumers.NewVolatility(log)
	volSub := b.Subscribe("volatility", cfg.BusQueueCapacity)
	go logging.Guard(log, "volatility", func() { volatility.Run(ctx, volSub) })

	volume := consumers.NewVolume(log)
	volumeSub := b.Subscribe("volume", cfg.BusQueueCapacity)
	go logging.Guard(log, "volume", func() { volume.Run(ctx, volumeSub) })

	health := consumers.NewHealth(b, cfg.MetricsInterval, log)
	healthSub := b.Subscribe("health", cfg.BusQueueCapacity)
	go logging.Guard(log, "health", func() { health.Run(ctx, healthSub) })

	if cfg.Record {
		rec, err := consumers.NewRawRecorder(cfg.RecordFile, log)
		if err != nil {
			log.Error().Err(err).Str("file", cfg.RecordFile).Msg("raw recorder disabled: cannot open record file")
		} else {
			recordSub := b.Subscribe("record", cfg.BusQueueCapacity)
			go logging.Guard(log, "record", func() { rec.Run(ctx, recordSub) })
		}
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux()}
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	srv := server.New(cfg.Addr(), b, log)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ctx, cfg.ShutdownDeadline)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			// Serve only returns a non-nil error from its initial bind; every
			// other path returns nil, so this is always a bind failure.
			log.Error().Err(err).Msg("server failed to bind")
			cancel()
			os.Exit(1)
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownDeadline)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("metrics server shutdown error")
	}

	recorder.Shutdown()
	log.Info().Msg("mercury-stream stopped")
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// runForensics pushes each event to the FlightRecorder (for
// push-before-detect ordering) before running the five detectors on it.
func runForensics(ctx context.Context, sub *bus.Subscription, rec *flightrecorder.Recorder, det *forensics.Detector, log zerolog.Logger) {
	for {
		t, err := sub.Receive(ctx)
		if err != nil {
			return
		}
		rec.OnEvent(t)

		raw, err := json.Marshal(t)
		if err != nil {
			log.Warn().Err(err).Msg("event re-marshal failed, skipping drift check")
			continue
		}
		var rawMap map[string]json.RawMessage
		if err := json.Unmarshal(raw, &rawMap); err != nil {
			log.Warn().Err(err).Msg("event remarshal decode failed")
			continue
		}
		det.Process(t, rawMap)
	}
}
