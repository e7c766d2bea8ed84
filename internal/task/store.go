// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// MP42PNG - 视频抽帧与打包工具

package task

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/aDarkMaker/MP42PNG/internal/archive"
	"github.com/aDarkMaker/MP42PNG/internal/events"
	"github.com/aDarkMaker/MP42PNG/internal/logger"
	"github.com/aDarkMaker/MP42PNG/internal/worker"

	"github.com/lithammer/shortuuid/v4"
)

// Exporter packs a directory into an archive
type Exporter interface {
	Export(ctx context.Context, sourceDir, dest string, sink events.Sink) (archive.Result, error)
}

// Store manages jobs in memory
type Store interface {
	// Add validates config and starts the job in the background
	Add(config *Config) (*Job, error)
	Get(id string) (*Job, error)
	List(ids []string, reference string) []*Job
	// Cancel asks a job to stop. Canceling a finished job does nothing.
	Cancel(id string) error
	// Delete cancels a job, waits for it and forgets it
	Delete(id string) error
	// Cleanup removes a temp directory unless an export is reading it
	Cleanup(tempDir string) error
	// Shutdown cancels every job and waits for them until ctx is done
	Shutdown(ctx context.Context) error
}

// StoreConfig for a store
type StoreConfig struct {
	Worker   worker.Worker
	Exporter Exporter
	// Sinks returns where the progress of a job goes. Nil drops it.
	Sinks    func(jobID string) events.Sink
	Logger   logger.Logger
	OnStart  func(job *Job)
	OnFinish func(report Report)
}

type store struct {
	worker   worker.Worker
	exporter Exporter
	sinks    func(string) events.Sink
	logger   logger.Logger
	onStart  func(*Job)
	onFinish func(Report)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	jobs   map[string]*Job
	busy   map[string]string
	seq    uint64
	closed bool
	mu     sync.RWMutex
}

// NewStore creates a job store
func NewStore(config StoreConfig) Store {
	s := &store{
		worker:   config.Worker,
		exporter: config.Exporter,
		sinks:    config.Sinks,
		logger:   config.Logger,
		onStart:  config.OnStart,
		onFinish: config.OnFinish,
		jobs:     make(map[string]*Job),
		busy:     make(map[string]string),
	}

	if s.exporter == nil {
		s.exporter = archive.MustNew(archive.Config{Logger: s.logger})
	}
	if s.sinks == nil {
		s.sinks = func(string) events.Sink { return events.Null() }
	}
	if s.logger == nil {
		s.logger = logger.Nop()
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	return s
}

func (s *store) Add(config *Config) (*Job, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrShutdown
	}

	if len(config.ID) == 0 {
		config.ID = shortuuid.New()
	}
	if _, exists := s.jobs[config.ID]; exists {
		return nil, ErrJobExists
	}

	s.seq++
	job := newJob(config, s.seq)
	sink := &jobSink{job: job, next: s.sinks(job.ID)}

	switch job.Kind {
	case KindConvert:
		if s.worker == nil {
			return nil, ErrNoWorker
		}
		run, err := s.worker.NewRun(*config.Convert, sink)
		if err != nil {
			return nil, err
		}
		job.run = run
	case KindExport:
		dir := filepath.Clean(config.Export.TempDir)
		if _, busy := s.busy[dir]; busy {
			return nil, ErrBusy
		}
		s.busy[dir] = job.ID
	}

	ctx, cancel := context.WithCancel(s.ctx)
	job.cancel = cancel

	s.jobs[job.ID] = job
	s.wg.Add(1)
	go s.execute(ctx, job, sink)

	s.logger.Info("job %s (%s) started", job.ID, job.Kind)

	return job, nil
}

func (s *store) execute(ctx context.Context, job *Job, sink events.Sink) {
	defer s.wg.Done()
	defer job.cancel()

	if s.onStart != nil {
		s.onStart(job)
	}

	report := Report{
		JobID:     job.ID,
		Reference: job.Reference,
		Kind:      job.Kind,
		StartedAt: time.Now(),
	}

	switch job.Kind {
	case KindConvert:
		outcome := job.run.Execute(ctx)

		state := StateSucceeded
		if !outcome.Success {
			state = StateFailed
			if worker.KindOf(outcome.Err) == worker.KindCanceled {
				state = StateCanceled
			}
		}

		report.Input = job.run.Request().InputPath
		report.Output = outcome.TempDir
		report.Frames = outcome.TotalFrames
		report.Error = outcome.Error

		job.finish(state, outcome.Error, &outcome, nil)

	case KindExport:
		req := job.Config.Export
		dest := archive.DestinationPath(req.TargetPath)

		result, err := s.exporter.Export(ctx, req.TempDir, dest, sink)
		s.release(req.TempDir)

		report.Input = req.TempDir
		report.Output = dest

		if err != nil {
			state := StateFailed
			if errors.Is(err, context.Canceled) {
				state = StateCanceled
			}
			report.Error = err.Error()
			job.finish(state, err.Error(), nil, nil)
		} else {
			report.Frames = result.Files
			report.Bytes = result.Bytes
			job.finish(StateSucceeded, "", nil, &result)
		}
	}

	report.State = job.State()
	report.Duration = time.Since(report.StartedAt)

	if report.State == StateSucceeded {
		s.logger.Info("job %s (%s) succeeded in %s", job.ID, job.Kind, report.Duration)
	} else {
		s.logger.Warn("job %s (%s) %s: %s", job.ID, job.Kind, report.State, report.Error)
	}

	if s.onFinish != nil {
		s.onFinish(report)
	}
}

func (s *store) release(tempDir string) {
	s.mu.Lock()
	delete(s.busy, filepath.Clean(tempDir))
	s.mu.Unlock()
}

func (s *store) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j, nil
}

func (s *store) List(ids []string, reference string) []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Job
	for _, j := range s.jobs {
		if len(reference) > 0 && j.Reference != reference {
			continue
		}
		if len(ids) > 0 {
			found := false
			for _, id := range ids {
				if j.ID == id {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		out = append(out, j)
	}

	sort.Slice(out, func(a, b int) bool { return out[a].seq < out[b].seq })
	return out
}

func (s *store) Cancel(id string) error {
	j, err := s.Get(id)
	if err != nil {
		return err
	}
	if j.IsRunning() {
		s.logger.Info("job %s cancel requested", id)
	}
	j.stop()
	return nil
}

func (s *store) Delete(id string) error {
	j, err := s.Get(id)
	if err != nil {
		return err
	}

	j.stop()
	<-j.Done()

	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()

	return nil
}

func (s *store) Cleanup(tempDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.busy[filepath.Clean(tempDir)]; busy {
		return ErrBusy
	}
	return worker.Cleanup(tempDir)
}

func (s *store) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
