package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"helios/monitor/internal/api"
	"helios/monitor/internal/auth"
	"helios/monitor/internal/config"
	"helios/monitor/internal/health"
	"helios/monitor/internal/monitor"
	"helios/monitor/internal/store"
	"helios/monitor/internal/stt"
	"helios/monitor/internal/telemetry"
)

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg := config.Load()

	st, err := store.Open(cfg.Database.URL)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()
	{
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := st.EnsureSchema(ctx); err != nil {
			cancel()
			log.Fatalf("schema: %v", err)
		}
		cancel()
	}

	buffer := monitor.NewBuffer(st, cfg.Buffer.FlushSize,
		time.Duration(cfg.Buffer.FlushIntervalSec)*time.Second)
	baselines := monitor.NewBaselineCalculator(st, cfg.Baseline.Window,
		time.Duration(cfg.Baseline.ValidityHours)*time.Hour, cfg.Baseline.MinSamples)
	detector := monitor.NewDetector(st, baselines)

	verifier := auth.NewVerifier(cfg.Auth.TokenSecret)
	recognizer := stt.NewWSRecognizer(cfg.Recognizer.URL, cfg.Recognizer.APIKey)
	sttHandler := stt.NewHandler(verifier, recognizer, buffer, stt.StreamConfig{
		Language:     cfg.Recognizer.Language,
		SampleRateHz: cfg.Recognizer.SampleRateHz,
	})
	registry := telemetry.NewRegistry()
	telemetryHandler := telemetry.NewHandler(verifier, registry, buffer)

	mux := http.NewServeMux()
	mux.Handle("/api/", api.NewRouter(api.NewHandlers(st, detector)))
	mux.HandleFunc(stt.Endpoint, sttHandler.HandleWS)
	mux.HandleFunc(telemetry.Endpoint, telemetryHandler.HandleWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := health.CheckAll(r.Context(), st, cfg)
		w.Header().Set("Content-Type", "application/json")
		if !status.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(buffer, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	rootCtx, stopSweep := context.WithCancel(context.Background())
	if cfg.Detect.SweepIntervalSec > 0 {
		go detectionSweep(rootCtx, detector,
			time.Duration(cfg.Detect.SweepIntervalSec)*time.Second)
	}

	// Graceful shutdown on SIGINT/SIGTERM
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		log.Printf("shutdown signal received; stopping server...")
		stopSweep()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	log.Printf("server starting on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Println("server error:", err)
		os.Exit(1)
	}

	// Flush whatever the buffer still holds before exiting.
	buffer.Close()
}

// detectionSweep periodically runs the detector over the well-known
// metrics and the WebSocket endpoints.
func detectionSweep(ctx context.Context, d *monitor.Detector, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			anomalous := 0
			for _, name := range monitor.WellKnownMetrics() {
				if rep := d.DetectAnomalies(ctx, name, ""); rep.HasAnomaly {
					anomalous++
				}
			}
			if rep := d.DetectWebSocketAnomalies(ctx, "", ""); rep.HasAnomaly {
				anomalous++
			}
			if anomalous > 0 {
				log.Printf("[sweep] %d anomalous reports", anomalous)
			}
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logMiddleware(buffer *monitor.Buffer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, rec.status, elapsed)
		// WebSocket endpoints record their own connection metrics.
		if r.URL.Path == stt.Endpoint || r.URL.Path == telemetry.Endpoint {
			return
		}
		buffer.RecordAPILatency(r.URL.Path, r.Method, rec.status,
			float64(elapsed.Milliseconds()))
	})
}
