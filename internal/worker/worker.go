// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// MP42PNG - 视频抽帧与打包工具
//
// Package worker drives the external frame extraction worker: it builds the
// command line, supervises conversion runs and probes video metadata.

package worker

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aDarkMaker/MP42PNG/internal/events"
	"github.com/aDarkMaker/MP42PNG/internal/logger"
	"github.com/aDarkMaker/MP42PNG/internal/process"
)

const outputDirName = "MP42PNG_output"

// Worker manages the worker binary
type Worker interface {
	// NewRun prepares a conversion run without starting it
	NewRun(req ConversionRequest, sink events.Sink) (Run, error)
	// Convert prepares and executes a run in one call
	Convert(ctx context.Context, req ConversionRequest, sink events.Sink) ConversionOutcome
	// Probe reads duration, frame rate and frame count of a video
	Probe(ctx context.Context, videoPath string) (VideoInfo, error)
	ValidateInput(path string) bool
	OutputDir() string
	Binary() string
}

// Config for the worker
type Config struct {
	Binary string
	// Args are put in front of every invocation, e.g. the script to run
	Args []string
	// Env is added to the inherited environment
	Env            []string
	OutputDir      string
	FrameExt       string
	KillTimeout    time.Duration
	ProbeTimeout   time.Duration
	LogLines       int
	ValidatorInput Validator
	// NewSampler builds the usage sampler of each run. Nil samples nothing.
	NewSampler func() process.Sampler
	Logger     logger.Logger
}

type worker struct {
	binary       string
	args         []string
	env          []string
	outputDir    string
	frameExt     string
	killTimeout  time.Duration
	probeTimeout time.Duration
	logLines     int
	validator    Validator
	newSampler   func() process.Sampler
	logger       logger.Logger
}

// New resolves the worker binary and creates a Worker
func New(config Config) (Worker, error) {
	if config.Binary == "" {
		return nil, &Error{Kind: KindLaunch, Label: "invalid worker binary", Err: process.ErrNoBinary}
	}
	binary, err := exec.LookPath(config.Binary)
	if err != nil {
		return nil, &Error{Kind: KindLaunch, Label: "invalid worker binary", Err: err}
	}

	w := &worker{
		binary:       binary,
		args:         config.Args,
		env:          append(os.Environ(), config.Env...),
		outputDir:    config.OutputDir,
		frameExt:     normalizeExt(config.FrameExt),
		killTimeout:  config.KillTimeout,
		probeTimeout: config.ProbeTimeout,
		logLines:     config.LogLines,
		validator:    config.ValidatorInput,
		newSampler:   config.NewSampler,
		logger:       config.Logger,
	}

	if w.logger == nil {
		w.logger = logger.Nop()
	}
	if w.validator == nil {
		w.validator, _ = NewValidator(nil, nil)
	}
	if w.newSampler == nil {
		w.newSampler = process.NewNullSampler
	}
	if w.outputDir == "" {
		w.outputDir = DefaultOutputDir()
	}
	if w.logLines <= 0 {
		w.logLines = 100
	}

	return w, nil
}

// DefaultOutputDir is the per-user cache location for raw worker output
func DefaultOutputDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, outputDirName)
}

func (w *worker) Binary() string    { return w.binary }
func (w *worker) OutputDir() string { return w.outputDir }

func (w *worker) ValidateInput(path string) bool {
	return w.validator.IsValid(path)
}

func (w *worker) Convert(ctx context.Context, req ConversionRequest, sink events.Sink) ConversionOutcome {
	r, err := w.NewRun(req, sink)
	if err != nil {
		return failed(err)
	}
	return r.Execute(ctx)
}

// Cleanup removes a temp directory left by a run. A missing directory is
// not an error.
func Cleanup(tempDir string) error {
	if strings.TrimSpace(tempDir) == "" {
		return &Error{Kind: KindRequest, Label: "invalid request", Err: ErrEmptyInput}
	}
	if err := os.RemoveAll(tempDir); err != nil {
		return &Error{Kind: KindFilesystem, Label: "remove temp directory", Err: err}
	}
	return nil
}

// command prefixes args with the configured script arguments
func (w *worker) command(args ...string) []string {
	out := make([]string, 0, len(w.args)+len(args))
	out = append(out, w.args...)
	return append(out, args...)
}

// ConvertArgs builds the worker arguments of a conversion request
func ConvertArgs(req ConversionRequest, outputDir string) []string {
	return []string{
		req.InputPath,
		"-f", strconv.FormatFloat(req.FPS, 'f', -1, 64),
		"-o", req.OutputName,
		"--no-zip",
		"--output-dir", outputDir,
	}
}

// DefaultOutputName is "<input stem>_frames"
func DefaultOutputName(inputPath string) string {
	base := filepath.Base(inputPath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + "_frames"
}

func normalizeExt(ext string) string {
	ext = strings.TrimSpace(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
