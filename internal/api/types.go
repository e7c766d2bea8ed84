// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// MP42PNG - 视频抽帧与打包工具

package api

import (
	"github.com/aDarkMaker/MP42PNG/internal/archive"
	"github.com/aDarkMaker/MP42PNG/internal/worker"
)

// ConvertRequest starts a conversion job
type ConvertRequest struct {
	ID         string  `json:"id"`
	Reference  string  `json:"reference"`
	InputPath  string  `json:"input_path" binding:"required"`
	OutputName string  `json:"output_name"`
	FPS        float64 `json:"fps"`
}

// ExportRequest starts an export job
type ExportRequest struct {
	ID         string `json:"id"`
	Reference  string `json:"reference"`
	TempDir    string `json:"temp_dir" binding:"required"`
	TargetPath string `json:"target_path" binding:"required"`
}

// CleanupRequest removes a temp directory
type CleanupRequest struct {
	TempDir string `json:"temp_dir" binding:"required"`
}

// Job represents a job in API responses
type Job struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Reference string     `json:"reference"`
	CreatedAt int64      `json:"created_at"`
	UpdatedAt int64      `json:"updated_at"`
	Order     string     `json:"order"`
	State     string     `json:"state"`
	Progress  int        `json:"progress"`
	Error     string     `json:"error,omitempty"`
	Config    *JobConfig `json:"config,omitempty"`

	Process *ProcessState             `json:"process,omitempty"`
	Outcome *worker.ConversionOutcome `json:"outcome,omitempty"`
	Export  *archive.Result           `json:"export,omitempty"`
	Report  *JobReport                `json:"report,omitempty"`
}

// JobConfig echoes the request that created a job
type JobConfig struct {
	Convert *worker.ConversionRequest `json:"convert,omitempty"`
	Export  *ExportRequest            `json:"export,omitempty"`
}

// ProcessState of the worker behind a conversion job
type ProcessState struct {
	State   string   `json:"exec"`
	Pid     int      `json:"pid"`
	Runtime int64    `json:"runtime_seconds"`
	Memory  uint64   `json:"memory_bytes"`
	CPU     float64  `json:"cpu_usage"`
	Command []string `json:"command"`
}

// JobReport holds worker log lines as [timestamp, stream, text]
type JobReport struct {
	CreatedAt int64       `json:"created_at"`
	Log       [][3]string `json:"log"`
}

// ProgressEvent is the data of a server-sent progress event
type ProgressEvent struct {
	JobID   string `json:"job_id"`
	Percent int    `json:"percent"`
}

// WorkerInfo describes the configured worker
type WorkerInfo struct {
	Binary    string `json:"binary"`
	OutputDir string `json:"output_dir"`
}

// CommandRequest for cancel
type CommandRequest struct {
	Command string `json:"command" binding:"required"`
}

// ErrorResponse for API errors
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}
