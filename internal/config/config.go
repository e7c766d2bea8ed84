// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// MP42PNG - 视频抽帧与打包工具

package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 环境变量前缀，例如 MP42PNG_WORKER_PATH
const EnvPrefix = "MP42PNG_"

// Config 应用配置
type Config struct {
	Server  ServerConfig  `yaml:"server" envPrefix:"SERVER_"`
	Worker  WorkerConfig  `yaml:"worker" envPrefix:"WORKER_"`
	Export  ExportConfig  `yaml:"export" envPrefix:"EXPORT_"`
	History HistoryConfig `yaml:"history" envPrefix:"HISTORY_"`
	Log     LogConfig     `yaml:"log" envPrefix:"LOG_"`
}

// ServerConfig 服务配置
type ServerConfig struct {
	Bind        string   `yaml:"bind" env:"BIND"`
	CORSOrigins []string `yaml:"cors_origins" env:"CORS_ORIGINS"`
}

// WorkerConfig 抽帧 worker 配置
type WorkerConfig struct {
	Path string `yaml:"path" env:"PATH"`
	// Args 放在每次调用的参数之前，例如脚本路径
	Args                []string `yaml:"args" env:"ARGS"`
	Env                 []string `yaml:"env" env:"ENV"`
	OutputDir           string   `yaml:"output_dir" env:"OUTPUT_DIR"`
	FrameExt            string   `yaml:"frame_ext" env:"FRAME_EXT"`
	KillTimeoutSeconds  int      `yaml:"kill_timeout_seconds" env:"KILL_TIMEOUT_SECONDS"`
	ProbeTimeoutSeconds int      `yaml:"probe_timeout_seconds" env:"PROBE_TIMEOUT_SECONDS"`
	LogLines            int      `yaml:"log_lines" env:"LOG_LINES"`
	Allow               []string `yaml:"allow" env:"ALLOW"`
	Block               []string `yaml:"block" env:"BLOCK"`
}

// ExportConfig 打包配置
type ExportConfig struct {
	BufferKB int `yaml:"buffer_kb" env:"BUFFER_KB"`
	// Level 压缩级别，-2 到 9，0 为不压缩，不设置时使用默认级别
	Level *int `yaml:"level" env:"LEVEL"`
}

// HistoryConfig 运行历史配置
type HistoryConfig struct {
	Path  string `yaml:"path" env:"PATH"`
	Limit int    `yaml:"limit" env:"LIMIT"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{Bind: ":8080"},
		Worker: WorkerConfig{
			Path:                "python3",
			Args:                []string{"main.py"},
			Env:                 []string{"PYTHONIOENCODING=utf-8"},
			KillTimeoutSeconds:  5,
			ProbeTimeoutSeconds: 30,
			LogLines:            100,
		},
		Export:  ExportConfig{BufferKB: 32},
		History: HistoryConfig{Path: defaultHistoryPath(), Limit: 50},
		Log:     LogConfig{Level: "info"},
	}
}

func defaultHistoryPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "MP42PNG", "history.db")
}

// Load 从 YAML 文件加载配置，再用环境变量覆盖
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, err
	}

	// 填充空值
	def := Default()
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = def.Server.Bind
	}
	if cfg.Worker.Path == "" {
		cfg.Worker.Path = def.Worker.Path
	}
	if cfg.Worker.KillTimeoutSeconds <= 0 {
		cfg.Worker.KillTimeoutSeconds = def.Worker.KillTimeoutSeconds
	}
	if cfg.Worker.ProbeTimeoutSeconds <= 0 {
		cfg.Worker.ProbeTimeoutSeconds = def.Worker.ProbeTimeoutSeconds
	}
	if cfg.Worker.LogLines <= 0 {
		cfg.Worker.LogLines = def.Worker.LogLines
	}
	if cfg.Export.BufferKB <= 0 {
		cfg.Export.BufferKB = def.Export.BufferKB
	}
	if cfg.History.Limit <= 0 {
		cfg.History.Limit = def.History.Limit
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}

	return cfg, nil
}

// KillTimeout 中断到强杀之间的宽限期
func (w WorkerConfig) KillTimeout() time.Duration {
	return time.Duration(w.KillTimeoutSeconds) * time.Second
}

// ProbeTimeout 视频信息探测超时
func (w WorkerConfig) ProbeTimeout() time.Duration {
	return time.Duration(w.ProbeTimeoutSeconds) * time.Second
}

// BufferSize 打包拷贝缓冲区字节数
func (e ExportConfig) BufferSize() int {
	return e.BufferKB * 1024
}
