/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config provides configuration management for MemWarden.
// config 包提供 MemWarden 的配置管理功能。
//
// Configuration loading priority (highest to lowest):
// 配置加载优先级（从高到低）：
// 1. Environment variables / 环境变量
// 2. Configuration file / 配置文件
// 3. Default values / 默认值
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values
// 默认配置值
const (
	DefaultConfigPath        = "/etc/memwarden/config.yaml"
	DefaultLogPeriod         = 10 * time.Second
	DefaultMonitorPeriod     = 10 * time.Second
	DefaultMemoryLimit       = uint64(220000000) // bytes / 字节
	DefaultDisconnectTimeout = 5 * time.Second
	DefaultLogLevel          = "info"
	DefaultLogMaxSize        = 100 // MB
	DefaultLogMaxBackups     = 3
	DefaultLogMaxAge         = 7 // days / 天
	DefaultAPIListen         = "127.0.0.1:7070"
)

// Config represents the MemWarden configuration
// Config 表示 MemWarden 配置
type Config struct {
	// Supervision configuration / 监管配置
	Supervision SupervisionConfig `mapstructure:"supervision" yaml:"supervision"`

	// Worker fleet configuration / worker 进程组配置
	Workers WorkersConfig `mapstructure:"workers" yaml:"workers"`

	// Log configuration / 日志配置
	Log LogConfig `mapstructure:"log" yaml:"log"`

	// Status API configuration / 状态 API 配置
	API APIConfig `mapstructure:"api" yaml:"api"`
}

// SupervisionConfig holds the per-worker memory supervision settings.
// It is treated as immutable once loaded.
// SupervisionConfig 保存每个 worker 的内存监管设置。加载后视为不可变。
type SupervisionConfig struct {
	// LogPeriod is the cadence of periodic memory-usage log emission.
	// Zero or negative disables the log task.
	// LogPeriod 是周期性内存使用日志的节奏。零或负值禁用该任务。
	LogPeriod time.Duration `mapstructure:"log_period" yaml:"log_period"`

	// MonitorPeriod is the cadence of memory limit breach checks.
	// Zero or negative disables the monitor task.
	// MonitorPeriod 是内存限制检查的节奏。零或负值禁用该任务。
	MonitorPeriod time.Duration `mapstructure:"monitor_period" yaml:"monitor_period"`

	// MemoryLimit is the RSS threshold in bytes. A breach is strictly
	// greater-than: a sample exactly at the limit does not trigger.
	// MemoryLimit 是 RSS 阈值（字节）。越限为严格大于：恰好等于限制不触发。
	MemoryLimit uint64 `mapstructure:"memory_limit" yaml:"memory_limit"`

	// DisconnectTimeout is the grace window between requesting a disconnect
	// and forcefully killing an unresponsive worker.
	// DisconnectTimeout 是从请求断开到强制杀死无响应 worker 的宽限窗口。
	DisconnectTimeout time.Duration `mapstructure:"disconnect_timeout" yaml:"disconnect_timeout"`
}

// LogTaskEnabled reports whether the periodic usage log task should run
// LogTaskEnabled 报告周期性使用日志任务是否应该运行
func (c SupervisionConfig) LogTaskEnabled() bool {
	return c.LogPeriod > 0
}

// MonitorTaskEnabled reports whether the breach-check task should run
// MonitorTaskEnabled 报告越限检查任务是否应该运行
func (c SupervisionConfig) MonitorTaskEnabled() bool {
	return c.MonitorPeriod > 0
}

// WorkersConfig contains worker fleet settings
// WorkersConfig 包含 worker 进程组设置
type WorkersConfig struct {
	// Count is the number of workers forked at startup.
	// Zero means one worker per CPU.
	// Count 是启动时派生的 worker 数量。零表示每个 CPU 一个 worker。
	Count int `mapstructure:"count" yaml:"count"`
}

// LogConfig contains logging settings
// LogConfig 包含日志设置
type LogConfig struct {
	// Level is the log level (debug, info, warn, error)
	// Level 是日志级别（debug, info, warn, error）
	Level string `mapstructure:"level" yaml:"level"`

	// File is the log file path; empty logs to stderr
	// File 是日志文件路径；为空则输出到 stderr
	File string `mapstructure:"file" yaml:"file"`

	// MaxSize is the maximum size of the log file in MB before rotation
	// MaxSize 是日志文件轮转前的最大大小（MB）
	MaxSize int `mapstructure:"max_size" yaml:"max_size"`

	// MaxBackups is the maximum number of old log files to retain
	// MaxBackups 是保留的旧日志文件的最大数量
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`

	// MaxAge is the maximum number of days to retain old log files
	// MaxAge 是保留旧日志文件的最大天数
	MaxAge int `mapstructure:"max_age" yaml:"max_age"`
}

// APIConfig contains status API settings
// APIConfig 包含状态 API 设置
type APIConfig struct {
	// Enabled indicates whether the manager serves the status API
	// Enabled 表示管理进程是否提供状态 API
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Listen is the address the status API binds to
	// Listen 是状态 API 绑定的地址
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// Load loads configuration from file and environment variables
// Load 从文件和环境变量加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values / 设置默认值
	setDefaults(v)

	// Set config file path / 设置配置文件路径
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Check environment variable / 检查环境变量
		envPath := os.Getenv("MEMWARDEN_CONFIG_PATH")
		if envPath != "" {
			v.SetConfigFile(envPath)
		} else {
			v.SetConfigFile(DefaultConfigPath)
		}
	}

	// Enable environment variable override / 启用环境变量覆盖
	v.SetEnvPrefix("MEMWARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file / 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error if we have defaults
		// 如果有默认值，配置文件未找到不是错误
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			// Check if file exists / 检查文件是否存在
			if _, statErr := os.Stat(v.ConfigFileUsed()); statErr == nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// File doesn't exist, use defaults / 文件不存在，使用默认值
		}
	}

	// Unmarshal config / 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// Supervision defaults / 监管默认值
	v.SetDefault("supervision.log_period", DefaultLogPeriod)
	v.SetDefault("supervision.monitor_period", DefaultMonitorPeriod)
	v.SetDefault("supervision.memory_limit", DefaultMemoryLimit)
	v.SetDefault("supervision.disconnect_timeout", DefaultDisconnectTimeout)

	// Worker fleet defaults / worker 进程组默认值
	v.SetDefault("workers.count", 0)

	// Log defaults / 日志默认值
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", DefaultLogMaxSize)
	v.SetDefault("log.max_backups", DefaultLogMaxBackups)
	v.SetDefault("log.max_age", DefaultLogMaxAge)

	// API defaults / API 默认值
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", DefaultAPIListen)
}

// Validate validates the configuration
// Validate 验证配置
func (c *Config) Validate() error {
	// Validate supervision settings / 验证监管设置
	if c.Supervision.MemoryLimit == 0 {
		return errors.New("supervision.memory_limit must be greater than zero")
	}
	if c.Supervision.DisconnectTimeout <= 0 {
		return errors.New("supervision.disconnect_timeout must be greater than zero")
	}

	// Validate worker count / 验证 worker 数量
	if c.Workers.Count < 0 {
		return fmt.Errorf("workers.count must not be negative: %d", c.Workers.Count)
	}

	// Validate log level / 验证日志级别
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	// Validate API listen address / 验证 API 监听地址
	if c.API.Enabled && c.API.Listen == "" {
		return errors.New("api.listen is required when the API is enabled")
	}

	return nil
}
