// Entry point for the alerte service: source registry, priority engine,
// emergency response and the feedback loop behind one chi router.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hazyhaar/alerte/alerts"
	"github.com/hazyhaar/alerte/dbopen"
	"github.com/hazyhaar/alerte/emergency"
	"github.com/hazyhaar/alerte/feedback"
	"github.com/hazyhaar/alerte/observability"
	"github.com/hazyhaar/alerte/priority"
	"github.com/hazyhaar/alerte/sources"
	"github.com/hazyhaar/alerte/watch"
	_ "modernc.org/sqlite"
)

const serviceName = "alerte"

func main() {
	port := env("PORT", "8086")
	dbPath := env("DB_PATH", "db/alerte.db")
	obsPath := env("OBS_DB", "db/observability.db")
	channelsFile := env("CHANNELS_FILE", "")
	protocolsFile := env("PROTOCOLS_FILE", "")
	logLevel := env("LOG_LEVEL", "info")

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Database.
	db, err := dbopen.Open(dbPath,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(sources.Schema),
		dbopen.WithSchema(emergency.Schema))
	if err != nil {
		slog.Error("open db", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Observability DB is separate from the application DB to keep metric
	// writes off the emergency path.
	obsDB, err := dbopen.Open(obsPath, dbopen.WithMkdirAll(), dbopen.WithSchema(observability.Schema))
	if err != nil {
		slog.Error("open observability db", "error", err)
		os.Exit(1)
	}
	defer obsDB.Close()
	metrics := observability.NewMetricsManager(obsDB, 100, 5*time.Second)
	defer metrics.Close()
	heartbeat := observability.NewHeartbeatWriter(obsDB, serviceName, 15*time.Second)
	heartbeat.Start(ctx)
	defer heartbeat.Stop()

	// Source registry and priority engine.
	registry := sources.NewRegistry(db)
	adjuster := priority.NewAdjuster(registry, logger)
	valueScorer := priority.NewValueScorer(registry)
	emergencySwitch := priority.NewSwitch(registry, logger)

	// Alert channels.
	var channels []alerts.Channel
	if channelsFile != "" {
		channels, err = alerts.LoadChannels(channelsFile, logger)
		if err != nil {
			slog.Error("load channels", "error", err)
			os.Exit(1)
		}
	} else {
		channels = []alerts.Channel{alerts.NewConsole("console", 1, true, logger)}
		slog.Warn("no CHANNELS_FILE configured, alerts go to the log only")
	}
	dispatcher := alerts.NewDispatcher(logger, channels...)

	// Emergency pipeline.
	protocols := emergency.BuiltinProtocols()
	if protocolsFile != "" {
		protocols, err = emergency.LoadProtocols(protocolsFile)
		if err != nil {
			slog.Error("load protocols", "error", err)
			os.Exit(1)
		}
	}
	selector := emergency.NewSelector(protocols, logger)
	history := emergency.NewHistory(db)
	executor := emergency.NewExecutor(selector, &emergency.SimulatedRunner{}, dispatcher, logger,
		emergency.WithHistory(history))
	analyzer := emergency.NewAnalyzer(logger)

	// Feedback loop.
	learner := feedback.NewLearner(registry, adjuster, logger)

	// Re-partition emergency pools when weights change under an installed
	// market condition (e.g. after feedback-driven adjustments).
	weightWatcher := watch.New(db, watch.Options{
		Interval: 5 * time.Second,
		Debounce: 2 * time.Second,
		Detector: watch.MaxColumnDetector("priority_weights", "updated_at"),
		Logger:   logger,
	})
	go weightWatcher.OnChange(ctx, func() error {
		return emergencySwitch.Refresh(ctx)
	})

	// Router.
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		hs, err := observability.LatestHeartbeat(r.Context(), obsDB, serviceName, 45*time.Second)
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, map[string]any{"status": "ok", "heartbeat": hs})
	})

	r.Get("/api/observability/metrics", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		list, err := metrics.Query(name, nil, nil, queryInt(r, "limit", 100))
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, list)
	})

	// Sources.
	r.Route("/api/sources", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			list, err := registry.ListSources(r.Context())
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, list)
		})

		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var src sources.Source
			if err := json.NewDecoder(r.Body).Decode(&src); err != nil {
				writeError(w, 400, err)
				return
			}
			if err := registry.InsertSource(r.Context(), &src); err != nil {
				switch {
				case errors.Is(err, sources.ErrInvalidSource):
					writeError(w, 400, err)
				case errors.Is(err, sources.ErrDuplicateSource):
					writeError(w, 409, err)
				default:
					writeError(w, 500, err)
				}
				return
			}
			writeJSON(w, 201, src)
		})

		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			src, err := registry.GetSource(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			if src == nil {
				writeJSON(w, 404, map[string]string{"error": "source not found"})
				return
			}
			writeJSON(w, 200, src)
		})

		r.Put("/{id}", func(w http.ResponseWriter, r *http.Request) {
			var src sources.Source
			if err := json.NewDecoder(r.Body).Decode(&src); err != nil {
				writeError(w, 400, err)
				return
			}
			src.ID = chi.URLParam(r, "id")
			if err := registry.UpdateSource(r.Context(), &src); err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, src)
		})

		r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
			if err := registry.DeleteSource(r.Context(), chi.URLParam(r, "id")); err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, map[string]string{"status": "deleted"})
		})

		r.Post("/{id}/adjust", func(w http.ResponseWriter, r *http.Request) {
			adj, err := adjuster.Adjust(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			metrics.RecordSimple(observability.MetricPriorityAdjustments, 1, "count")
			writeJSON(w, 200, adj)
		})

		r.Get("/{id}/adjustments", func(w http.ResponseWriter, r *http.Request) {
			limit := queryInt(r, "limit", 50)
			adjs, err := registry.ListAdjustments(r.Context(), chi.URLParam(r, "id"), limit)
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, adjs)
		})
	})

	// Priority scoring.
	r.Post("/api/priorities/value", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Items []*priority.FeedItem `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
		values := make([]*priority.InformationValue, len(req.Items))
		for i, item := range req.Items {
			values[i] = valueScorer.Score(r.Context(), item)
		}
		writeJSON(w, 200, values)
	})

	r.Post("/api/priorities/rank", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SourceIDs []string                  `json:"source_ids"`
			Analyses  []priority.SourceAnalysis `json:"analyses"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
		srcs := make([]*sources.Source, 0, len(req.SourceIDs))
		for _, id := range req.SourceIDs {
			src, err := registry.GetSource(r.Context(), id)
			if err != nil {
				writeError(w, 500, err)
				return
			}
			if src == nil {
				writeJSON(w, 404, map[string]string{"error": "source not found: " + id})
				return
			}
			srcs = append(srcs, src)
		}
		scorer := priority.NewScorer(nil, logger)
		writeJSON(w, 200, scorer.RankWith(srcs, req.Analyses))
	})

	// Market conditions drive the emergency source configuration.
	r.Post("/api/market", func(w http.ResponseWriter, r *http.Request) {
		var cond priority.MarketCondition
		if err := json.NewDecoder(r.Body).Decode(&cond); err != nil {
			writeError(w, 400, err)
			return
		}
		cfg, err := emergencySwitch.Reconfigure(r.Context(), cond)
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, cfg)
	})

	r.Get("/api/market", func(w http.ResponseWriter, r *http.Request) {
		cfg := emergencySwitch.Config()
		if cfg == nil {
			writeJSON(w, 404, map[string]string{"error": "no market configuration installed"})
			return
		}
		writeJSON(w, 200, cfg)
	})

	// Emergencies.
	r.Post("/api/emergencies", func(w http.ResponseWriter, r *http.Request) {
		var info emergency.Information
		if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
			writeError(w, 400, err)
			return
		}
		if info.ID == "" || info.Classification.Category == "" {
			writeJSON(w, 400, map[string]string{"error": "id and classification.category are required"})
			return
		}
		resp := executor.HandleEmergency(r.Context(), &info)
		analysis := analyzer.Analyze(resp, &info)

		labels := map[string]string{"category": info.Classification.Category}
		metrics.Record(&observability.Metric{
			Name: observability.MetricEmergencyResponseMs, Timestamp: time.Now(),
			Value: float64(resp.ResponseTimeMs), Labels: labels, Unit: "milliseconds",
		})
		metrics.RecordSimple(observability.MetricEmergenciesHandled, 1, "count")
		metrics.RecordSimple(observability.MetricAlertsDispatched, float64(resp.Result.NotificationsSent), "count")
		if resp.Result.NotificationsFailed > 0 {
			metrics.RecordSimple(observability.MetricAlertsFailed, float64(resp.Result.NotificationsFailed), "count")
		}
		if resp.Result.EscalationRequired {
			metrics.RecordSimple(observability.MetricEscalationsTriggered, 1, "count")
		}

		writeJSON(w, 200, map[string]any{"response": resp, "analysis": analysis})
	})

	r.Get("/api/emergencies/{id}/responses", func(w http.ResponseWriter, r *http.Request) {
		list, err := history.ListByEmergency(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, list)
	})

	r.Get("/api/responses", func(w http.ResponseWriter, r *http.Request) {
		list, err := history.Recent(r.Context(), queryInt(r, "limit", 50))
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, list)
	})

	// Feedback loop.
	r.Mount("/api/feedback", learner.Handler())

	// HTTP server.
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// --- Helpers ---

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
