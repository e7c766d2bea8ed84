// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// MP42PNG - 视频抽帧与打包工具

package parse

import (
	"bytes"
	"strconv"
	"strings"
	"unicode"
)

// Control line prefixes spoken by the worker on stdout. Case-sensitive.
const (
	ProgressPrefix = "PROGRESS:"
	TempDirPrefix  = "TEMP_DIR:"
)

// Kind of a classified stdout line
type Kind int

const (
	KindText Kind = iota
	KindProgress
	KindTempDir
)

func (k Kind) String() string {
	switch k {
	case KindProgress:
		return "progress"
	case KindTempDir:
		return "temp_dir"
	default:
		return "text"
	}
}

// Line is one classified line of worker output
type Line struct {
	Kind    Kind
	Text    string
	Percent int
	Path    string
}

// Classify turns a complete line into a Line. ok is false for a PROGRESS
// line whose payload is not a non-negative integer; such lines are dropped.
func Classify(text string) (line Line, ok bool) {
	line.Text = text

	switch {
	case strings.HasPrefix(text, ProgressPrefix):
		payload := strings.TrimSpace(strings.TrimPrefix(text, ProgressPrefix))
		// one explicit plus sign is accepted, "+5" is 5
		payload = strings.TrimPrefix(payload, "+")
		n, err := strconv.ParseUint(payload, 10, 31)
		if err != nil {
			return line, false
		}
		line.Kind = KindProgress
		line.Percent = int(n)
	case strings.HasPrefix(text, TempDirPrefix):
		line.Kind = KindTempDir
		line.Path = strings.TrimSpace(strings.TrimPrefix(text, TempDirPrefix))
	default:
		line.Kind = KindText
	}

	return line, true
}

// Splitter reassembles lines from arbitrarily split byte chunks. It keeps
// the unterminated tail between calls.
type Splitter struct {
	tail []byte
}

// Feed appends a chunk and returns every line completed by it, trimmed of
// trailing whitespace.
func (s *Splitter) Feed(chunk []byte) []string {
	var lines []string

	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			s.tail = append(s.tail, chunk...)
			break
		}
		var raw []byte
		if len(s.tail) > 0 {
			raw = append(s.tail, chunk[:i]...)
			s.tail = s.tail[:0]
		} else {
			raw = chunk[:i]
		}
		lines = append(lines, trimLine(raw))
		chunk = chunk[i+1:]
	}

	return lines
}

// Flush returns the unterminated remainder as a final line, if it holds
// anything besides whitespace.
func (s *Splitter) Flush() (string, bool) {
	line := trimLine(s.tail)
	s.tail = nil
	return line, line != ""
}

// Reset drops any buffered tail
func (s *Splitter) Reset() {
	s.tail = nil
}

func trimLine(raw []byte) string {
	return strings.ToValidUTF8(strings.TrimRightFunc(string(raw), unicode.IsSpace), "�")
}
