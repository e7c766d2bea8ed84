// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// MP42PNG - 视频抽帧与打包工具
//
// Package events carries progress notifications from conversion and export
// runs to whoever listens (the HTTP event stream, tests).

package events

import (
	"sync"
	"time"
)

// Stream names a progress channel
type Stream string

const (
	ConversionProgress Stream = "conversion-progress"
	ExportProgress     Stream = "export-progress"
)

// Event is one progress notification
type Event struct {
	Stream  Stream    `json:"stream"`
	JobID   string    `json:"job_id,omitempty"`
	Percent int       `json:"percent"`
	Time    time.Time `json:"time"`
}

// Sink receives progress percentages of a single run. Implementations must
// be safe for concurrent use.
type Sink interface {
	Publish(stream Stream, percent int)
}

// SinkFunc adapts a function to a Sink
type SinkFunc func(stream Stream, percent int)

func (f SinkFunc) Publish(stream Stream, percent int) { f(stream, percent) }

type nullSink struct{}

func (nullSink) Publish(Stream, int) {}

// Null returns a sink that drops everything
func Null() Sink {
	return nullSink{}
}

// Recorder is a Sink that keeps every event in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(stream Stream, percent int) {
	r.mu.Lock()
	r.events = append(r.events, Event{Stream: stream, Percent: percent, Time: time.Now()})
	r.mu.Unlock()
}

// Events returns a copy of what was published so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Percents returns the published percentages of one stream in order
func (r *Recorder) Percents(stream Stream) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, e := range r.events {
		if e.Stream == stream {
			out = append(out, e.Percent)
		}
	}
	return out
}
