// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// MP42PNG - 视频抽帧与打包工具

package events

import (
	"sync"
	"sync/atomic"
	"time"
)

const defaultBuffer = 64

// Broker fans events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event. Events that are
// delivered keep the order in which they were published.
type Broker struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscription
	next    uint64
	buffer  int
	dropped atomic.Uint64

	// OnPublish, when set, is called for every published event
	OnPublish func(Event)
	// OnDrop, when set, is called for every event a subscriber missed
	OnDrop func(Event)
}

type subscription struct {
	jobID string
	ch    chan Event
}

// NewBroker creates a broker whose subscribers buffer up to buffer events
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Broker{
		subs:   make(map[uint64]*subscription),
		buffer: buffer,
	}
}

// Publish delivers ev to every matching subscriber
func (b *Broker) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if b.OnPublish != nil {
		b.OnPublish(ev)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		if s.jobID != "" && s.jobID != ev.JobID {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			b.dropped.Add(1)
			if b.OnDrop != nil {
				b.OnDrop(ev)
			}
		}
	}
}

// Sink returns a Sink that tags every percentage with jobID
func (b *Broker) Sink(jobID string) Sink {
	return SinkFunc(func(stream Stream, percent int) {
		b.Publish(Event{Stream: stream, JobID: jobID, Percent: percent})
	})
}

// Subscribe returns a channel of events for jobID, or for all jobs when
// jobID is empty. The returned func unsubscribes and closes the channel.
func (b *Broker) Subscribe(jobID string) (<-chan Event, func()) {
	s := &subscription{jobID: jobID, ch: make(chan Event, b.buffer)}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

// Subscribers returns the number of active subscriptions
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because of full buffers
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}
