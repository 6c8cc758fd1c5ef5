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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultLogPeriod, cfg.Supervision.LogPeriod)
	assert.Equal(t, DefaultMonitorPeriod, cfg.Supervision.MonitorPeriod)
	assert.Equal(t, DefaultMemoryLimit, cfg.Supervision.MemoryLimit)
	assert.Equal(t, DefaultDisconnectTimeout, cfg.Supervision.DisconnectTimeout)
	assert.Equal(t, 0, cfg.Workers.Count)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, DefaultAPIListen, cfg.API.Listen)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
supervision:
  log_period: 0
  monitor_period: 2s
  memory_limit: 1
  disconnect_timeout: 250ms
workers:
  count: 3
log:
  level: debug
api:
  enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	// An explicit zero period disables the task
	// 显式的零周期禁用该任务
	assert.False(t, cfg.Supervision.LogTaskEnabled())
	assert.True(t, cfg.Supervision.MonitorTaskEnabled())

	assert.Equal(t, 2*time.Second, cfg.Supervision.MonitorPeriod)
	assert.Equal(t, uint64(1), cfg.Supervision.MemoryLimit)
	assert.Equal(t, 250*time.Millisecond, cfg.Supervision.DisconnectTimeout)
	assert.Equal(t, 3, cfg.Workers.Count)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.API.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
supervision:
  memory_limit: 100
`)
	t.Setenv("MEMWARDEN_SUPERVISION_MEMORY_LIMIT", "500")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), cfg.Supervision.MemoryLimit)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero memory limit / 内存限制为零", func(c *Config) { c.Supervision.MemoryLimit = 0 }},
		{"zero disconnect timeout / 断开超时为零", func(c *Config) { c.Supervision.DisconnectTimeout = 0 }},
		{"negative worker count / worker 数量为负", func(c *Config) { c.Workers.Count = -1 }},
		{"bogus log level / 非法日志级别", func(c *Config) { c.Log.Level = "loud" }},
		{"API enabled without listen address / 启用 API 但无监听地址", func(c *Config) {
			c.API.Enabled = true
			c.API.Listen = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestPeriodEnabledHelpers(t *testing.T) {
	cfg := SupervisionConfig{LogPeriod: -time.Second, MonitorPeriod: time.Millisecond}
	assert.False(t, cfg.LogTaskEnabled())
	assert.True(t, cfg.MonitorTaskEnabled())
}

// writeConfig writes a temporary YAML config file and returns its path
// writeConfig 写入一个临时 YAML 配置文件并返回其路径
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
