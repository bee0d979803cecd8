package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatload/database"
	"chatload/handlers"
	"chatload/metrics"
	"chatload/middleware"
	"chatload/models"
	"chatload/services"
	"chatload/websocket"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "config/chatload.toml", "path to the TOML run configuration")
	targetURL := flag.String("url", "", "override the target WebSocket URL")
	summaryExport := flag.String("summary-export", "", "write the end-of-run summary as JSON to this file")
	localHub := flag.String("local-hub", "", "serve a built-in chat hub on this address and target it (smoke runs)")
	flag.Parse()

	config, err := models.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *localHub != "" && *targetURL == "" {
		config.Target.URL = "ws://" + *localHub + "/ws"
	}
	if *targetURL != "" {
		config.Target.URL = *targetURL
	}
	if *summaryExport != "" {
		config.Output.SummaryExport = *summaryExport
	}
	if err := config.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize logger
	logger, err := models.NewLoadLogger(config.Output.LogDir, models.ParseLogLevel(config.Output.LogLevel))
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	var runRepo *models.RunRepository
	if config.Output.Database != "" {
		db, err := database.NewDatabase(config.Output.Database)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer db.Close()
		runRepo = models.NewRunRepository(db.DB)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *localHub != "" {
		hub := websocket.NewHub(logger)
		go hub.Run(ctx)

		mux := http.NewServeMux()
		mux.Handle("/ws", hub)
		hubServer := &http.Server{Addr: *localHub, Handler: mux}
		go func() {
			if err := hubServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.LogError("local hub", err)
			}
		}()
		defer shutdown(hubServer)
		logger.Info("Local chat hub listening on %s", *localHub)
	}

	sink := metrics.NewSink(logger)
	scheduler := services.NewScheduler(config, sink, logger)
	runID := models.NewRunID()

	if config.Monitor.Enabled {
		gin.SetMode(gin.ReleaseMode)
		monitorHandlers := handlers.NewMonitorHandlers(scheduler, sink, runRepo, handlers.RunInfo{
			RunID:     runID,
			TargetURL: config.Target.URL,
			StartedAt: time.Now(),
		}, logger)
		router := handlers.SetupRouter(monitorHandlers, middleware.MonitorAccessFromEnv(), logger)

		monitorServer := &http.Server{Addr: config.Monitor.Addr, Handler: router}
		go func() {
			if err := monitorServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.LogError("monitor server", err)
			}
		}()
		defer shutdown(monitorServer)
		logger.Info("Monitor API listening on %s", config.Monitor.Addr)
	}

	logger.LogRunStart(runID, config.Target.URL, config.Stages)

	result, err := scheduler.Run(ctx)
	if err != nil {
		logger.LogError("running load profile", err)
		return
	}
	if result.Interrupted {
		logger.Warning("Run interrupted after %v", result.Elapsed.Round(time.Second))
	}

	snapshot := sink.Snapshot()
	metrics.WriteReport(os.Stdout, metrics.ReportInfo{
		RunID:        runID,
		TargetURL:    config.Target.URL,
		Elapsed:      result.Elapsed,
		VirtualUsers: result.Spawned,
		PeakTarget:   models.MaxTarget(config.Stages),
	}, snapshot)

	summary := metrics.Summary{
		RunID:        runID,
		TargetURL:    config.Target.URL,
		StartedAt:    result.StartedAt,
		FinishedAt:   result.FinishedAt,
		VirtualUsers: result.Spawned,
		Metrics:      snapshot,
	}

	if config.Output.SummaryExport != "" {
		if err := metrics.ExportSummary(config.Output.SummaryExport, summary); err != nil {
			logger.LogError("exporting summary", err)
		} else {
			logger.Info("Summary written to %s", config.Output.SummaryExport)
		}
	}

	if runRepo != nil {
		if err := saveRun(runRepo, config, result, summary); err != nil {
			logger.LogError("saving run", err)
		}
	}

	logger.LogRunEnd(runID, result.Spawned, result.Elapsed)
}

func saveRun(runRepo *models.RunRepository, config *models.Config, result *services.RunResult, summary metrics.Summary) error {
	data, err := metrics.MarshalSummary(summary)
	if err != nil {
		return err
	}

	return runRepo.CreateRun(&models.Run{
		ID:            summary.RunID,
		StartedAt:     result.StartedAt,
		FinishedAt:    result.FinishedAt,
		TargetURL:     config.Target.URL,
		Stages:        config.Stages,
		VirtualUsers:  result.Spawned,
		PeakActive:    result.PeakActive,
		SessionErrors: result.SessionErrors,
		Interrupted:   result.Interrupted,
		Summary:       data,
	})
}

func shutdown(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(ctx)
}
