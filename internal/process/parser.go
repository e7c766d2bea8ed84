// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// MP42PNG - 视频抽帧与打包工具

package process

import "time"

// Stream identifies which pipe a log line came from
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Parser consumes the raw output of a process. Parse and Diagnostic are each
// called from a single goroutine, in the order the bytes were read.
type Parser interface {
	// Parse receives a raw stdout chunk
	Parse(chunk []byte)
	// Diagnostic receives a raw stderr chunk
	Diagnostic(chunk []byte)
	// Flush is called once after both streams reached EOF
	Flush()
	ResetStats()
	ResetLog()
	Log() []Line
}

// Line is a timestamped log line
type Line struct {
	Timestamp time.Time
	Stream    Stream
	Data      string
}

type nullParser struct{}

func (p *nullParser) Parse(chunk []byte)      {}
func (p *nullParser) Diagnostic(chunk []byte) {}
func (p *nullParser) Flush()                  {}
func (p *nullParser) ResetStats()             {}
func (p *nullParser) ResetLog()               {}
func (p *nullParser) Log() []Line             { return nil }
