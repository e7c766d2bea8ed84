// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// MP42PNG - 视频抽帧与打包工具

package parse

import (
	"container/ring"
	"strings"
	"sync"
	"time"

	"github.com/aDarkMaker/MP42PNG/internal/process"
)

// Parser implements process.Parser for the worker's line protocol
type Parser interface {
	process.Parser
	// Progress is the last percentage announced by the worker
	Progress() int
	// TempDir is the last announced temp directory
	TempDir() (string, bool)
	// Diagnostics is everything the worker wrote to stderr
	Diagnostics() string
}

// Config for the parser
type Config struct {
	LogLines int
	// OnProgress is called for every PROGRESS line, in stdout order
	OnProgress func(percent int)
	// OnTempDir is called for every TEMP_DIR line, in stdout order
	OnTempDir func(path string)
}

type parser struct {
	onProgress func(int)
	onTempDir  func(string)

	// stdout side, written only by the stdout goroutine
	out      Splitter
	progress int
	tempDir  string
	hasTemp  bool

	// stderr side, written only by the stderr goroutine
	errLines Splitter
	stderr   strings.Builder

	log      *ring.Ring
	logLines int
	lock     sync.RWMutex
}

// New creates a Parser
func New(config Config) Parser {
	p := &parser{
		onProgress: config.OnProgress,
		onTempDir:  config.OnTempDir,
		logLines:   config.LogLines,
	}
	if p.logLines <= 0 {
		p.logLines = 100
	}
	p.log = ring.New(p.logLines)
	return p
}

func (p *parser) Parse(chunk []byte) {
	for _, text := range p.out.Feed(chunk) {
		p.handle(text)
	}
}

func (p *parser) Diagnostic(chunk []byte) {
	lines := p.errLines.Feed(chunk)

	p.lock.Lock()
	p.stderr.Write(chunk)
	for _, text := range lines {
		p.appendLog(process.Stderr, text)
	}
	p.lock.Unlock()
}

func (p *parser) Flush() {
	if text, ok := p.out.Flush(); ok {
		p.handle(text)
	}
	if text, ok := p.errLines.Flush(); ok {
		p.lock.Lock()
		p.appendLog(process.Stderr, text)
		p.lock.Unlock()
	}
}

func (p *parser) handle(text string) {
	line, ok := Classify(text)
	if !ok {
		return
	}

	switch line.Kind {
	case KindProgress:
		p.lock.Lock()
		p.progress = line.Percent
		p.lock.Unlock()
		if p.onProgress != nil {
			p.onProgress(line.Percent)
		}
	case KindTempDir:
		p.lock.Lock()
		p.tempDir = line.Path
		p.hasTemp = true
		p.lock.Unlock()
		if p.onTempDir != nil {
			p.onTempDir(line.Path)
		}
	default:
		p.lock.Lock()
		p.appendLog(process.Stdout, line.Text)
		p.lock.Unlock()
	}
}

// appendLog must be called with the lock held
func (p *parser) appendLog(stream process.Stream, text string) {
	p.log.Value = process.Line{Timestamp: time.Now(), Stream: stream, Data: text}
	p.log = p.log.Next()
}

func (p *parser) ResetStats() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.progress = 0
	p.tempDir = ""
	p.hasTemp = false
	p.stderr.Reset()
	p.out.Reset()
	p.errLines.Reset()
}

func (p *parser) ResetLog() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.log = ring.New(p.logLines)
}

func (p *parser) Log() []process.Line {
	var out []process.Line
	p.lock.RLock()
	p.log.Do(func(v interface{}) {
		if v != nil {
			out = append(out, v.(process.Line))
		}
	})
	p.lock.RUnlock()
	return out
}

func (p *parser) Progress() int {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.progress
}

func (p *parser) TempDir() (string, bool) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.tempDir, p.hasTemp
}

func (p *parser) Diagnostics() string {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return strings.TrimSpace(p.stderr.String())
}
