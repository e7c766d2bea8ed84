// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// MP42PNG - 视频抽帧与打包工具

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aDarkMaker/MP42PNG/internal/api"
	"github.com/aDarkMaker/MP42PNG/internal/archive"
	"github.com/aDarkMaker/MP42PNG/internal/config"
	"github.com/aDarkMaker/MP42PNG/internal/events"
	"github.com/aDarkMaker/MP42PNG/internal/history"
	"github.com/aDarkMaker/MP42PNG/internal/logger"
	"github.com/aDarkMaker/MP42PNG/internal/metrics"
	"github.com/aDarkMaker/MP42PNG/internal/process"
	"github.com/aDarkMaker/MP42PNG/internal/task"
	"github.com/aDarkMaker/MP42PNG/internal/worker"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	bind := flag.String("bind", "", "Bind address (overrides config)")
	workerBin := flag.String("worker", "", "Worker binary path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}
	if *bind != "" {
		cfg.Server.Bind = *bind
	}
	if *workerBin != "" {
		cfg.Worker.Path = *workerBin
	}

	lg := logger.New("mp42png", logger.ParseLevel(cfg.Log.Level))

	validator, err := worker.NewValidator(cfg.Worker.Allow, cfg.Worker.Block)
	if err != nil {
		log.Fatalf("Worker validator: %v", err)
	}

	w, err := worker.New(worker.Config{
		Binary:         cfg.Worker.Path,
		Args:           cfg.Worker.Args,
		Env:            cfg.Worker.Env,
		OutputDir:      cfg.Worker.OutputDir,
		FrameExt:       cfg.Worker.FrameExt,
		KillTimeout:    cfg.Worker.KillTimeout(),
		ProbeTimeout:   cfg.Worker.ProbeTimeout(),
		LogLines:       cfg.Worker.LogLines,
		ValidatorInput: validator,
		NewSampler:     process.NewSysSampler,
		Logger:         logger.Named(lg, "worker"),
	})
	if err != nil {
		log.Fatalf("Worker init: %v", err)
	}

	broker := events.NewBroker(0)
	broker.OnPublish = func(ev events.Event) {
		metrics.ProgressEventsTotal.WithLabelValues(string(ev.Stream)).Inc()
	}
	broker.OnDrop = func(ev events.Event) {
		metrics.ProgressEventsDroppedTotal.WithLabelValues(string(ev.Stream)).Inc()
	}

	exporter, err := archive.New(archive.Config{
		BufferSize: cfg.Export.BufferSize(),
		Level:      cfg.Export.Level,
		Logger:     logger.Named(lg, "archive"),
	})
	if err != nil {
		log.Fatalf("Exporter init: %v", err)
	}

	var hist api.History
	db, err := history.Open(cfg.History.Path, logger.Named(lg, "history"))
	if err != nil {
		lg.Error("history disabled: %v", err)
	} else {
		defer db.Close()
		hist = db
	}

	store := task.NewStore(task.StoreConfig{
		Worker:   w,
		Exporter: exporter,
		Sinks:    broker.Sink,
		Logger:   logger.Named(lg, "task"),
		OnStart: func(job *task.Job) {
			metrics.JobStarted(string(job.Kind))
		},
		OnFinish: func(r task.Report) {
			metrics.JobFinished(string(r.Kind), string(r.State), r.Frames, r.Bytes, r.Duration)
			if db == nil {
				return
			}
			if err := db.Save(context.Background(), history.Run{
				JobID:     r.JobID,
				Reference: r.Reference,
				Kind:      string(r.Kind),
				State:     string(r.State),
				Input:     r.Input,
				Output:    r.Output,
				Frames:    r.Frames,
				Bytes:     r.Bytes,
				Error:     r.Error,
				StartedAt: r.StartedAt,
				Duration:  r.Duration,
			}); err != nil {
				lg.Error("save history for job %s: %v", r.JobID, err)
			}
		},
	})

	handler := api.NewHandler(store, w, broker, hist, cfg.History.Limit)

	if logger.ParseLevel(cfg.Log.Level) > logger.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), corsMiddleware(cfg.Server.CORSOrigins))

	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	handler.Register(r.Group("/api/v1"))

	// canceled on shutdown to end open event streams
	base, closeStreams := context.WithCancel(context.Background())
	defer closeStreams()

	srv := &http.Server{
		Addr:        cfg.Server.Bind,
		Handler:     r,
		BaseContext: func(net.Listener) context.Context { return base },
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		lg.Info("MP42PNG listening on %s (worker %s, output %s)", cfg.Server.Bind, w.Binary(), w.OutputDir())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server: %v", err)
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := store.Shutdown(shutdownCtx); err != nil {
		lg.Warn("jobs still running at shutdown: %v", err)
	}
	closeStreams()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("server shutdown: %v", err)
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		return cors.Default()
	}
	c := cors.DefaultConfig()
	c.AllowOrigins = origins
	c.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}
	return cors.New(c)
}
