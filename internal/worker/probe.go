// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// MP42PNG - 视频抽帧与打包工具

package worker

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aDarkMaker/MP42PNG/internal/process"
)

// Defaults for reply fields that do not parse
const (
	defaultDuration = 0
	defaultFPS      = 30
)

func (w *worker) Probe(ctx context.Context, videoPath string) (VideoInfo, error) {
	if strings.TrimSpace(videoPath) == "" {
		return VideoInfo{}, &Error{Kind: KindRequest, Label: "invalid request", Err: ErrEmptyInput}
	}
	if !w.validator.IsValid(videoPath) {
		return VideoInfo{}, &Error{Kind: KindRequest, Label: "invalid request", Detail: videoPath, Err: ErrInvalidInput}
	}

	if w.probeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.probeTimeout)
		defer cancel()
	}

	out := &collector{}
	proc, err := process.New(process.Config{
		Binary:      w.binary,
		Args:        w.command("--info", videoPath),
		Env:         w.env,
		KillTimeout: w.killTimeout,
		Parser:      out,
		Logger:      w.logger,
	})
	if err != nil {
		return VideoInfo{}, &Error{Kind: KindLaunch, Label: "start worker", Err: err}
	}

	exit, err := proc.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return VideoInfo{}, &Error{Kind: KindCanceled, Label: "probe canceled", Err: ctx.Err()}
		}
		return VideoInfo{}, &Error{Kind: KindLaunch, Label: "start worker", Err: err}
	}

	if !exit.Success() {
		detail := strings.TrimSpace(out.stderr.String())
		if detail == "" {
			detail = fmt.Sprintf("exit code %d", exit.Code)
		}
		return VideoInfo{}, &Error{Kind: KindRuntime, Label: "probe video info", Detail: detail}
	}

	return ParseInfo(out.stdout.String())
}

// ParseInfo parses "<duration>,<fps>,<total_frames>". Only a missing field
// is an error; fields that do not parse fall back to defaults.
func ParseInfo(output string) (VideoInfo, error) {
	line := lastLine(output)
	parts := strings.Split(line, ",")
	if len(parts) < 3 {
		return VideoInfo{}, &Error{Kind: KindParse, Label: "parse video info", Detail: fmt.Sprintf("unexpected output %q", line)}
	}

	info := VideoInfo{Duration: defaultDuration, FPS: defaultFPS}
	if v, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64); err == nil {
		info.Duration = v
	}
	if v, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64); err == nil {
		info.FPS = v
	}
	if v, err := strconv.ParseUint(strings.TrimSpace(parts[2]), 10, 31); err == nil {
		info.TotalFrames = int(v)
	}
	return info, nil
}

// lastLine returns the last non-blank line of s
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// collector keeps both streams of a probe verbatim
type collector struct {
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func (c *collector) Parse(chunk []byte)      { c.stdout.Write(chunk) }
func (c *collector) Diagnostic(chunk []byte) { c.stderr.Write(chunk) }
func (c *collector) Flush()                  {}
func (c *collector) ResetStats()             {}
func (c *collector) ResetLog()               {}
func (c *collector) Log() []process.Line     { return nil }
