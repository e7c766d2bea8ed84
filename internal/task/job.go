// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// MP42PNG - 视频抽帧与打包工具

package task

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aDarkMaker/MP42PNG/internal/archive"
	"github.com/aDarkMaker/MP42PNG/internal/events"
	"github.com/aDarkMaker/MP42PNG/internal/process"
	"github.com/aDarkMaker/MP42PNG/internal/worker"
)

// State of a job
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

// Job is a conversion or export running in the background
type Job struct {
	ID        string
	Reference string
	Kind      Kind
	Config    *Config
	CreatedAt int64

	seq      uint64
	run      worker.Run
	cancel   context.CancelFunc
	done     chan struct{}
	progress atomic.Int64

	mu      sync.RWMutex
	state   State
	outcome *worker.ConversionOutcome
	export  *archive.Result
	err     string
	order   string
	updated int64
}

func newJob(config *Config, seq uint64) *Job {
	now := time.Now().Unix()
	return &Job{
		ID:        config.ID,
		Reference: config.Reference,
		Kind:      config.Kind(),
		Config:    config,
		CreatedAt: now,
		seq:       seq,
		done:      make(chan struct{}),
		state:     StateRunning,
		order:     "start",
		updated:   now,
	}
}

// State returns the current job state
func (j *Job) State() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// Order is the last command given to the job, "start" or "stop"
func (j *Job) Order() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.order
}

// UpdatedAt is the unix time of the last order or state change
func (j *Job) UpdatedAt() int64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.updated
}

func (j *Job) stop() {
	j.mu.Lock()
	j.order = "stop"
	j.updated = time.Now().Unix()
	j.mu.Unlock()
	j.cancel()
}

// Progress is the last published percentage
func (j *Job) Progress() int {
	return int(j.progress.Load())
}

// Outcome of a conversion job, nil while running or for exports
func (j *Job) Outcome() *worker.ConversionOutcome {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.outcome
}

// ExportResult of an export job, nil while running, on failure or for
// conversions
func (j *Job) ExportResult() *archive.Result {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.export
}

// Error message of a failed or canceled job
func (j *Job) Error() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

// Status returns worker process status. Exports have none.
func (j *Job) Status() process.Status {
	if j.run == nil {
		return process.Status{}
	}
	return j.run.Status()
}

// Log returns the worker log lines of a conversion
func (j *Job) Log() []process.Line {
	if j.run == nil {
		return nil
	}
	return j.run.Log()
}

// Args returns the worker arguments of a conversion
func (j *Job) Args() []string {
	if j.run == nil {
		return nil
	}
	return j.run.Args()
}

// IsRunning returns whether the job has not finished yet
func (j *Job) IsRunning() bool {
	select {
	case <-j.done:
		return false
	default:
		return true
	}
}

// Done is closed when the job finished
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finished or ctx is done
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Job) finish(state State, err string, outcome *worker.ConversionOutcome, export *archive.Result) {
	j.mu.Lock()
	j.state = state
	j.err = err
	j.outcome = outcome
	j.export = export
	j.updated = time.Now().Unix()
	j.mu.Unlock()
	close(j.done)
}

// jobSink records progress on the job and forwards it
type jobSink struct {
	job  *Job
	next events.Sink
}

func (s *jobSink) Publish(stream events.Stream, percent int) {
	s.job.progress.Store(int64(percent))
	s.next.Publish(stream, percent)
}

// Report summarizes a finished job
type Report struct {
	JobID     string
	Reference string
	Kind      Kind
	State     State
	Input     string
	Output    string
	Frames    int
	Bytes     int64
	Error     string
	StartedAt time.Time
	Duration  time.Duration
}
