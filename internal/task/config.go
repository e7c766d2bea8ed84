// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// MP42PNG - 视频抽帧与打包工具

package task

import (
	"strings"

	"github.com/aDarkMaker/MP42PNG/internal/worker"
)

// Kind of a job
type Kind string

const (
	KindConvert Kind = "convert"
	KindExport  Kind = "export"
)

// ExportRequest packs a temp directory into a zip archive
type ExportRequest struct {
	TempDir    string `json:"temp_dir"`
	TargetPath string `json:"target_path"`
}

// Config for a job. Exactly one of Convert and Export is set.
type Config struct {
	ID        string                    `json:"id"`
	Reference string                    `json:"reference"`
	Convert   *worker.ConversionRequest `json:"convert,omitempty"`
	Export    *ExportRequest            `json:"export,omitempty"`
}

// Kind derives the job kind from the request that is set
func (c *Config) Kind() Kind {
	if c.Export != nil {
		return KindExport
	}
	return KindConvert
}

func (c *Config) validate() error {
	if (c.Convert == nil) == (c.Export == nil) {
		return ErrInvalidConfig
	}
	if c.Export != nil {
		if strings.TrimSpace(c.Export.TempDir) == "" || strings.TrimSpace(c.Export.TargetPath) == "" {
			return ErrInvalidExport
		}
	}
	return nil
}
