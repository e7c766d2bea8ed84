// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// MP42PNG - 视频抽帧与打包工具

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/aDarkMaker/MP42PNG/internal/events"
	"github.com/aDarkMaker/MP42PNG/internal/history"
	"github.com/aDarkMaker/MP42PNG/internal/task"
	"github.com/aDarkMaker/MP42PNG/internal/worker"

	"github.com/gin-gonic/gin"
)

// History lists finished runs
type History interface {
	Recent(ctx context.Context, limit int) ([]history.Run, error)
}

// Handler holds dependencies
type Handler struct {
	store        task.Store
	worker       worker.Worker
	broker       *events.Broker
	history      History
	historyLimit int
}

const defaultHistoryLimit = 50

// NewHandler creates API handler. history may be nil. historyLimit is the
// page size of GET /history when no limit is given.
func NewHandler(store task.Store, w worker.Worker, broker *events.Broker, hist History, historyLimit int) *Handler {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &Handler{store: store, worker: w, broker: broker, history: hist, historyLimit: historyLimit}
}

// Register mounts all routes on group
func (h *Handler) Register(group *gin.RouterGroup) {
	group.GET("/worker", h.WorkerInfo)
	group.GET("/info", h.Info)

	group.POST("/convert", h.Convert)
	group.POST("/export", h.Export)
	group.POST("/cleanup", h.Cleanup)

	group.GET("/jobs", h.ListJobs)
	group.GET("/jobs/:id", h.GetJob)
	group.DELETE("/jobs/:id", h.DeleteJob)
	group.GET("/jobs/:id/report", h.GetReport)
	group.PUT("/jobs/:id/command", h.Command)

	group.GET("/events", h.Events)
	group.GET("/history", h.History)
}

func errResp(c *gin.Context, code int, msg, detail string) {
	c.JSON(code, ErrorResponse{Code: code, Message: msg, Detail: detail})
}

// statusOf maps store and worker errors to HTTP status codes
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, task.ErrNotFound):
		return http.StatusNotFound, "Unknown job ID"
	case errors.Is(err, task.ErrJobExists):
		return http.StatusConflict, "Job exists"
	case errors.Is(err, task.ErrBusy):
		return http.StatusConflict, "Temp directory busy"
	case errors.Is(err, task.ErrShutdown), errors.Is(err, task.ErrNoWorker):
		return http.StatusServiceUnavailable, "Unavailable"
	case errors.Is(err, task.ErrInvalidConfig), errors.Is(err, task.ErrInvalidExport):
		return http.StatusBadRequest, "Invalid request"
	}

	switch worker.KindOf(err) {
	case worker.KindRequest:
		return http.StatusBadRequest, "Invalid request"
	case worker.KindLaunch, worker.KindRuntime, worker.KindParse, worker.KindProtocol:
		return http.StatusBadGateway, "Worker failed"
	case worker.KindCanceled:
		return http.StatusGatewayTimeout, "Worker canceled"
	}

	return http.StatusInternalServerError, "Internal error"
}

func fail(c *gin.Context, err error) {
	code, msg := statusOf(err)
	errResp(c, code, msg, err.Error())
}

// WorkerInfo GET /api/v1/worker
func (h *Handler) WorkerInfo(c *gin.Context) {
	c.JSON(http.StatusOK, WorkerInfo{Binary: h.worker.Binary(), OutputDir: h.worker.OutputDir()})
}

// Info GET /api/v1/info?path=
func (h *Handler) Info(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		errResp(c, http.StatusBadRequest, "Missing path", "")
		return
	}

	info, err := h.worker.Probe(c.Request.Context(), path)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, info)
}

// Convert POST /api/v1/convert
func (h *Handler) Convert(c *gin.Context) {
	var req ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errResp(c, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}

	t, err := h.store.Add(&task.Config{
		ID:        req.ID,
		Reference: req.Reference,
		Convert: &worker.ConversionRequest{
			InputPath:  req.InputPath,
			OutputName: req.OutputName,
			FPS:        req.FPS,
		},
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, jobToAPI(t, "config,state"))
}

// Export POST /api/v1/export
func (h *Handler) Export(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errResp(c, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}

	t, err := h.store.Add(&task.Config{
		ID:        req.ID,
		Reference: req.Reference,
		Export:    &task.ExportRequest{TempDir: req.TempDir, TargetPath: req.TargetPath},
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, jobToAPI(t, "config,state"))
}

// Cleanup POST /api/v1/cleanup
func (h *Handler) Cleanup(c *gin.Context) {
	var req CleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errResp(c, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}

	if err := h.store.Cleanup(req.TempDir); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, "OK")
}

// ListJobs GET /api/v1/jobs
func (h *Handler) ListJobs(c *gin.Context) {
	filter := c.DefaultQuery("filter", "")
	reference := c.DefaultQuery("reference", "")
	idStr := c.DefaultQuery("id", "")

	var ids []string
	if idStr != "" {
		ids = strings.FieldsFunc(idStr, func(r rune) bool { return r == ',' })
		for i := range ids {
			ids[i] = strings.TrimSpace(ids[i])
		}
	}

	jobs := h.store.List(ids, reference)
	out := make([]Job, 0, len(jobs))
	for _, t := range jobs {
		out = append(out, jobToAPI(t, filter))
	}

	c.JSON(http.StatusOK, out)
}

// GetJob GET /api/v1/jobs/:id
func (h *Handler) GetJob(c *gin.Context) {
	t, err := h.store.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, jobToAPI(t, c.DefaultQuery("filter", "")))
}

// DeleteJob DELETE /api/v1/jobs/:id
func (h *Handler) DeleteJob(c *gin.Context) {
	if err := h.store.Delete(c.Param("id")); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, "OK")
}

// GetReport GET /api/v1/jobs/:id/report
func (h *Handler) GetReport(c *gin.Context) {
	t, err := h.store.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, jobReport(t))
}

// Command PUT /api/v1/jobs/:id/command
func (h *Handler) Command(c *gin.Context) {
	id := c.Param("id")

	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errResp(c, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}

	var err error
	switch req.Command {
	case "cancel", "stop":
		err = h.store.Cancel(id)
	default:
		errResp(c, http.StatusBadRequest, "Unknown command", "Known: cancel")
		return
	}

	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, "OK")
}

// History GET /api/v1/history
func (h *Handler) History(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusOK, []history.Run{})
		return
	}

	limit := h.historyLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			errResp(c, http.StatusBadRequest, "Invalid limit", s)
			return
		}
		limit = n
	}

	runs, err := h.history.Recent(c.Request.Context(), limit)
	if err != nil {
		errResp(c, http.StatusInternalServerError, "History unavailable", err.Error())
		return
	}

	c.JSON(http.StatusOK, runs)
}

func jobToAPI(t *task.Job, filter string) Job {
	j := Job{
		ID:        t.ID,
		Type:      string(t.Kind),
		Reference: t.Reference,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt(),
		Order:     t.Order(),
		State:     string(t.State()),
		Progress:  t.Progress(),
		Error:     t.Error(),
		Outcome:   t.Outcome(),
		Export:    t.ExportResult(),
	}

	includeAll := filter == ""
	includeConfig := includeAll || strings.Contains(filter, "config")
	includeState := includeAll || strings.Contains(filter, "state")
	includeReport := includeAll || strings.Contains(filter, "report")

	if includeConfig {
		cfg := &JobConfig{Convert: t.Config.Convert}
		if e := t.Config.Export; e != nil {
			cfg.Export = &ExportRequest{ID: t.ID, Reference: t.Reference, TempDir: e.TempDir, TargetPath: e.TargetPath}
		}
		j.Config = cfg
	}

	if includeState && t.Kind == task.KindConvert {
		status := t.Status()
		j.Process = &ProcessState{
			State:   status.State,
			Pid:     status.Pid,
			Runtime: int64(status.Duration.Seconds()),
			Memory:  status.Memory,
			CPU:     status.CPU,
			Command: t.Args(),
		}
	}

	if includeReport {
		report := jobReport(t)
		j.Report = &report
	}

	return j
}

func jobReport(t *task.Job) JobReport {
	lines := t.Log()
	report := JobReport{CreatedAt: t.CreatedAt, Log: make([][3]string, len(lines))}
	for i, line := range lines {
		report.Log[i] = [3]string{
			line.Timestamp.Format("2006-01-02 15:04:05.000"),
			string(line.Stream),
			line.Data,
		}
	}
	return report
}
