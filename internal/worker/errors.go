// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// MP42PNG - 视频抽帧与打包工具

package worker

import "errors"

// Kind classifies a failure
type Kind string

const (
	KindRequest    Kind = "request"
	KindLaunch     Kind = "launch"
	KindRuntime    Kind = "runtime"
	KindProtocol   Kind = "protocol"
	KindFilesystem Kind = "filesystem"
	KindParse      Kind = "parse"
	KindCanceled   Kind = "canceled"
)

var (
	ErrInvalidFPS      = errors.New("frame rate must be greater than zero")
	ErrEmptyInput      = errors.New("input path is empty")
	ErrInvalidInput    = errors.New("input path rejected by validator")
	ErrNoResult        = errors.New("worker exited without announcing a temp directory")
	ErrAlreadyExecuted = errors.New("run already executed")
)

// Error is a failure of a worker call. The message is "label: detail".
type Error struct {
	Kind   Kind
	Label  string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "":
		return e.Label + ": " + e.Detail
	case e.Err != nil:
		return e.Label + ": " + e.Err.Error()
	default:
		return e.Label
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or "" if err is not a worker error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
