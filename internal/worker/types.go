// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// MP42PNG - 视频抽帧与打包工具

package worker

// ConversionRequest is the input of one supervised run
type ConversionRequest struct {
	InputPath  string  `json:"input_path"`
	OutputName string  `json:"output_name"`
	FPS        float64 `json:"fps"`
}

// ConversionOutcome is produced exactly once per run
type ConversionOutcome struct {
	Success     bool     `json:"success"`
	TempDir     string   `json:"temp_dir,omitempty"`
	FramePaths  []string `json:"frame_paths,omitempty"`
	TotalFrames int      `json:"total_frames"`
	Error       string   `json:"error,omitempty"`

	Err error `json:"-"`
}

func succeeded(tempDir string, frames []string) ConversionOutcome {
	return ConversionOutcome{
		Success:     true,
		TempDir:     tempDir,
		FramePaths:  frames,
		TotalFrames: len(frames),
	}
}

func failed(err error) ConversionOutcome {
	return ConversionOutcome{Error: err.Error(), Err: err}
}

// VideoInfo is the reply of the info probe
type VideoInfo struct {
	Duration    float64 `json:"duration"`
	FPS         float64 `json:"fps"`
	TotalFrames int     `json:"total_frames"`
}
