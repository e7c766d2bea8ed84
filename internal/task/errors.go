// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// MP42PNG - 视频抽帧与打包工具

package task

import "errors"

var (
	ErrNotFound      = errors.New("job not found")
	ErrJobExists     = errors.New("job already exists")
	ErrInvalidConfig = errors.New("invalid config: need either a conversion or an export request")
	ErrInvalidExport = errors.New("invalid export: need a temp directory and a target path")
	ErrBusy          = errors.New("temp directory is in use by another job")
	ErrNoWorker      = errors.New("no worker configured")
	ErrShutdown      = errors.New("store is shutting down")
)
