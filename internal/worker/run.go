// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// MP42PNG - 视频抽帧与打包工具

package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/aDarkMaker/MP42PNG/internal/events"
	"github.com/aDarkMaker/MP42PNG/internal/logger"
	"github.com/aDarkMaker/MP42PNG/internal/process"
	"github.com/aDarkMaker/MP42PNG/internal/worker/parse"
)

// Run is a single supervised conversion. Execute may be called once.
type Run interface {
	Request() ConversionRequest
	Args() []string
	Execute(ctx context.Context) ConversionOutcome
	Status() process.Status
	Progress() int
	Log() []process.Line
}

type run struct {
	req       ConversionRequest
	args      []string
	outputDir string
	frameExt  string
	sink      events.Sink
	proc      process.Process
	parser    parse.Parser
	logger    logger.Logger

	ctx      context.Context
	executed atomic.Bool
}

func (w *worker) NewRun(req ConversionRequest, sink events.Sink) (Run, error) {
	if strings.TrimSpace(req.InputPath) == "" {
		return nil, &Error{Kind: KindRequest, Label: "invalid request", Err: ErrEmptyInput}
	}
	if !(req.FPS > 0) {
		return nil, &Error{Kind: KindRequest, Label: "invalid request", Err: ErrInvalidFPS}
	}
	if !w.validator.IsValid(req.InputPath) {
		return nil, &Error{Kind: KindRequest, Label: "invalid request", Detail: req.InputPath, Err: ErrInvalidInput}
	}
	if req.OutputName == "" {
		req.OutputName = DefaultOutputName(req.InputPath)
	}
	if sink == nil {
		sink = events.Null()
	}

	r := &run{
		req:       req,
		outputDir: w.outputDir,
		frameExt:  w.frameExt,
		sink:      sink,
		logger:    w.logger,
		ctx:       context.Background(),
	}
	r.args = w.command(ConvertArgs(req, w.outputDir)...)
	r.parser = parse.New(parse.Config{
		LogLines:   w.logLines,
		OnProgress: r.publish,
	})

	proc, err := process.New(process.Config{
		Binary:      w.binary,
		Args:        r.args,
		Env:         w.env,
		KillTimeout: w.killTimeout,
		Parser:      r.parser,
		Sampler:     w.newSampler(),
		Logger:      w.logger,
	})
	if err != nil {
		return nil, &Error{Kind: KindLaunch, Label: "start worker", Err: err}
	}
	r.proc = proc

	return r, nil
}

func (r *run) Request() ConversionRequest { return r.req }
func (r *run) Args() []string             { return r.args }
func (r *run) Status() process.Status     { return r.proc.Status() }
func (r *run) Progress() int              { return r.parser.Progress() }
func (r *run) Log() []process.Line        { return r.parser.Log() }

// publish forwards a worker percentage unless the run was abandoned
func (r *run) publish(percent int) {
	if r.ctx.Err() != nil {
		return
	}
	r.sink.Publish(events.ConversionProgress, percent)
}

func (r *run) Execute(ctx context.Context) ConversionOutcome {
	if r.executed.Swap(true) {
		return failed(&Error{Kind: KindLaunch, Label: "start worker", Err: ErrAlreadyExecuted})
	}

	outcome := r.execute(ctx)
	if outcome.Success {
		r.logger.Info("converted %s: %d frames in %s", r.req.InputPath, outcome.TotalFrames, outcome.TempDir)
	} else {
		r.logger.Error("convert %s: %s", r.req.InputPath, outcome.Error)
	}
	return outcome
}

func (r *run) execute(ctx context.Context) ConversionOutcome {
	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return failed(&Error{Kind: KindFilesystem, Label: "create output directory", Err: err})
	}

	// Set before the process starts, read by the stdout goroutine.
	r.ctx = ctx

	exit, err := r.proc.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return failed(&Error{Kind: KindCanceled, Label: "conversion canceled", Err: ctx.Err()})
		}
		return failed(&Error{Kind: KindLaunch, Label: "start worker", Err: err})
	}

	diagnostics := r.parser.Diagnostics()

	if !exit.Success() {
		detail := diagnostics
		if detail == "" {
			detail = fmt.Sprintf("exit code %d", exit.Code)
		}
		return failed(&Error{Kind: KindRuntime, Label: "worker failed", Detail: detail})
	}

	tempDir, ok := r.parser.TempDir()
	if !ok || tempDir == "" {
		return failed(&Error{Kind: KindProtocol, Label: "worker produced no result", Detail: diagnostics, Err: ErrNoResult})
	}

	frames, err := listFrames(tempDir, r.frameExt)
	if err != nil {
		return failed(&Error{Kind: KindFilesystem, Label: "read temp directory", Err: err})
	}

	return succeeded(tempDir, frames)
}

// listFrames returns the regular files directly inside dir, sorted by name
func listFrames(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	frames := make([]string, 0, len(entries))
	for _, e := range entries {
		if ext != "" && !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		if info.Mode().IsRegular() {
			frames = append(frames, path)
		}
	}

	sort.Strings(frames)
	return frames, nil
}
