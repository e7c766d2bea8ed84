package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aDarkMaker/MP42PNG/internal/events"
	"github.com/aDarkMaker/MP42PNG/internal/history"
	"github.com/aDarkMaker/MP42PNG/internal/process"
	"github.com/aDarkMaker/MP42PNG/internal/task"
	"github.com/aDarkMaker/MP42PNG/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeWorker struct {
	block   chan struct{}
	info    worker.VideoInfo
	infoErr error
}

func (w *fakeWorker) NewRun(req worker.ConversionRequest, sink events.Sink) (worker.Run, error) {
	if req.FPS <= 0 {
		return nil, &worker.Error{Kind: worker.KindRequest, Label: "invalid request", Err: worker.ErrInvalidFPS}
	}
	return &fakeRun{req: req, sink: sink, block: w.block}, nil
}

func (w *fakeWorker) Convert(ctx context.Context, req worker.ConversionRequest, sink events.Sink) worker.ConversionOutcome {
	r, err := w.NewRun(req, sink)
	if err != nil {
		return worker.ConversionOutcome{Error: err.Error(), Err: err}
	}
	return r.Execute(ctx)
}

func (w *fakeWorker) Probe(ctx context.Context, path string) (worker.VideoInfo, error) {
	return w.info, w.infoErr
}

func (w *fakeWorker) ValidateInput(string) bool { return true }
func (w *fakeWorker) OutputDir() string         { return "/tmp/frames" }
func (w *fakeWorker) Binary() string            { return "/usr/bin/worker" }

type fakeRun struct {
	req   worker.ConversionRequest
	sink  events.Sink
	block chan struct{}
}

func (r *fakeRun) Request() worker.ConversionRequest { return r.req }
func (r *fakeRun) Args() []string                    { return []string{r.req.InputPath, "-f", "1"} }
func (r *fakeRun) Status() process.Status            { return process.Status{State: "finished"} }
func (r *fakeRun) Progress() int                     { return 100 }

func (r *fakeRun) Log() []process.Line {
	return []process.Line{{Timestamp: time.Now(), Stream: process.Stderr, Data: "warning"}}
}

func (r *fakeRun) Execute(ctx context.Context) worker.ConversionOutcome {
	r.sink.Publish(events.ConversionProgress, 50)
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			err := &worker.Error{Kind: worker.KindCanceled, Label: "conversion canceled", Err: ctx.Err()}
			return worker.ConversionOutcome{Error: err.Error(), Err: err}
		}
	}
	r.sink.Publish(events.ConversionProgress, 100)
	return worker.ConversionOutcome{Success: true, TempDir: "/tmp/frames/x_temp", FramePaths: []string{"/tmp/frames/x_temp/1.png"}, TotalFrames: 1}
}

type fakeHistory struct {
	runs  []history.Run
	limit int
}

func (f *fakeHistory) Recent(ctx context.Context, limit int) ([]history.Run, error) {
	f.limit = limit
	return f.runs, nil
}

type testServer struct {
	router *gin.Engine
	store  task.Store
	broker *events.Broker
	worker *fakeWorker
	hist   *fakeHistory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	s := &testServer{
		broker: events.NewBroker(16),
		worker: &fakeWorker{},
		hist:   &fakeHistory{},
	}
	s.store = task.NewStore(task.StoreConfig{Worker: s.worker, Sinks: s.broker.Sink})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.store.Shutdown(ctx)
	})

	s.router = gin.New()
	NewHandler(s.store, s.worker, s.broker, s.hist, 3).Register(s.router.Group("/api/v1"))
	return s
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) waitState(t *testing.T, id string, state task.State) Job {
	t.Helper()

	var job Job
	require.Eventually(t, func() bool {
		rec := s.do(t, http.MethodGet, "/api/v1/jobs/"+id, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		job = decode[Job](t, rec)
		return job.State == string(state)
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestConvertJob(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/convert", ConvertRequest{InputPath: "/v/x.mp4", FPS: 1, Reference: "ui"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	job := decode[Job](t, rec)
	require.NotEmpty(t, job.ID)
	require.Equal(t, "convert", job.Type)
	require.Equal(t, "ui", job.Reference)
	require.NotNil(t, job.Config)
	require.Equal(t, "/v/x.mp4", job.Config.Convert.InputPath)

	job = s.waitState(t, job.ID, task.StateSucceeded)
	require.Equal(t, 100, job.Progress)
	require.NotNil(t, job.Outcome)
	require.Equal(t, "/tmp/frames/x_temp", job.Outcome.TempDir)
	require.Equal(t, 1, job.Outcome.TotalFrames)
	require.Equal(t, []string{"/v/x.mp4", "-f", "1"}, job.Process.Command)
	require.Len(t, job.Report.Log, 1)
	require.Equal(t, "stderr", job.Report.Log[0][1])

	rec = s.do(t, http.MethodGet, "/api/v1/jobs?filter=state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	jobs := decode[[]Job](t, rec)
	require.Len(t, jobs, 1)
	require.Nil(t, jobs[0].Config)
	require.Nil(t, jobs[0].Report)
}

func TestConvertInvalid(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/convert", "{")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/convert", ConvertRequest{FPS: 1})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/convert", ConvertRequest{InputPath: "x.mp4"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decode[ErrorResponse](t, rec).Detail, worker.ErrInvalidFPS.Error())

	rec = s.do(t, http.MethodPost, "/api/v1/convert", ConvertRequest{ID: "dup", InputPath: "x.mp4", FPS: 1})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/v1/convert", ConvertRequest{ID: "dup", InputPath: "x.mp4", FPS: 1})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestUnknownJob(t *testing.T) {
	s := newTestServer(t)

	require.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/jobs/nope", nil).Code)
	require.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/jobs/nope/report", nil).Code)
	require.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/api/v1/jobs/nope", nil).Code)
	require.Equal(t, http.StatusNotFound, s.do(t, http.MethodPut, "/api/v1/jobs/nope/command", CommandRequest{Command: "cancel"}).Code)
}

func TestCancelCommand(t *testing.T) {
	s := newTestServer(t)
	s.worker.block = make(chan struct{})

	rec := s.do(t, http.MethodPost, "/api/v1/convert", ConvertRequest{InputPath: "x.mp4", FPS: 1})
	require.Equal(t, http.StatusOK, rec.Code)
	id := decode[Job](t, rec).ID

	rec = s.do(t, http.MethodPut, "/api/v1/jobs/"+id+"/command", CommandRequest{Command: "restart"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/v1/jobs/"+id+"/command", CommandRequest{Command: "cancel"})
	require.Equal(t, http.StatusOK, rec.Code)

	job := s.waitState(t, id, task.StateCanceled)
	require.Equal(t, "stop", job.Order)
	require.Contains(t, job.Error, "conversion canceled")

	rec = s.do(t, http.MethodDelete, "/api/v1/jobs/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/jobs/"+id, nil).Code)
}

func TestExportAndCleanup(t *testing.T) {
	s := newTestServer(t)

	src := filepath.Join(t.TempDir(), "x_temp")
	require.NoError(t, os.Mkdir(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "1.png"), []byte("png"), 0o644))
	target := filepath.Join(t.TempDir(), "x_frames")

	rec := s.do(t, http.MethodPost, "/api/v1/export", ExportRequest{TempDir: src})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/export", ExportRequest{TempDir: src, TargetPath: target})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	job := decode[Job](t, rec)
	require.Equal(t, "export", job.Type)
	require.Nil(t, job.Process)

	job = s.waitState(t, job.ID, task.StateSucceeded)
	require.NotNil(t, job.Export)
	require.Equal(t, target+".zip", job.Export.Destination)
	require.Equal(t, 1, job.Export.Files)

	other := filepath.Join(t.TempDir(), "leftover_temp")
	require.NoError(t, os.Mkdir(other, 0o755))

	rec = s.do(t, http.MethodPost, "/api/v1/cleanup", CleanupRequest{TempDir: other})
	require.Equal(t, http.StatusOK, rec.Code)
	_, err := os.Stat(other)
	require.ErrorIs(t, err, os.ErrNotExist)

	rec = s.do(t, http.MethodPost, "/api/v1/cleanup", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInfo(t *testing.T) {
	s := newTestServer(t)
	s.worker.info = worker.VideoInfo{Duration: 12.5, FPS: 25, TotalFrames: 312}

	rec := s.do(t, http.MethodGet, "/api/v1/info?path=/v/x.mp4", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, s.worker.info, decode[worker.VideoInfo](t, rec))

	require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/info", nil).Code)

	s.worker.infoErr = &worker.Error{Kind: worker.KindParse, Label: "parse video info", Detail: `unexpected output "1,2"`}
	rec = s.do(t, http.MethodGet, "/api/v1/info?path=/v/x.mp4", nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, `parse video info: unexpected output "1,2"`, decode[ErrorResponse](t, rec).Detail)
}

func TestWorkerInfo(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/worker", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, WorkerInfo{Binary: "/usr/bin/worker", OutputDir: "/tmp/frames"}, decode[WorkerInfo](t, rec))
}

func TestHistory(t *testing.T) {
	s := newTestServer(t)
	s.hist.runs = []history.Run{{JobID: "a", Kind: "convert", State: "succeeded"}}

	rec := s.do(t, http.MethodGet, "/api/v1/history?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 5, s.hist.limit)
	runs := decode[[]history.Run](t, rec)
	require.Len(t, runs, 1)
	require.Equal(t, "a", runs[0].JobID)

	require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/history?limit=x", nil).Code)

	rec = s.do(t, http.MethodGet, "/api/v1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 3, s.hist.limit)
}

func TestEventStream(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events?job=wanted", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))

	require.Eventually(t, func() bool { return s.broker.Subscribers() == 1 }, 5*time.Second, 5*time.Millisecond)

	s.broker.Sink("other").Publish(events.ConversionProgress, 10)
	s.broker.Sink("wanted").Publish(events.ConversionProgress, 20)
	s.broker.Sink("wanted").Publish(events.ExportProgress, 100)

	reader := bufio.NewReader(resp.Body)
	var got []string
	for len(got) < 4 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if line != "" {
			got = append(got, line)
		}
	}

	require.Equal(t, []string{
		"event:conversion-progress",
		`data:{"job_id":"wanted","percent":20}`,
		"event:export-progress",
		`data:{"job_id":"wanted","percent":100}`,
	}, got)

	cancel()
	require.Eventually(t, func() bool { return s.broker.Subscribers() == 0 }, 5*time.Second, 5*time.Millisecond)
}
