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

// Package monitor runs inside each worker process and samples its memory.
// monitor 包运行在每个 worker 进程内部并采样其内存。
//
// Two independent periodic tasks, both optional:
// 两个相互独立的周期任务，均可选：
// - Log task: emits a structured memory-usage record / 日志任务：输出结构化内存使用记录
// - Monitor task: checks RSS against the limit / 监控任务：将 RSS 与限制比较
//
// On a breach the monitor cancels both tasks and notifies the manager once;
// the manager owns the disconnect-then-kill sequence from there. The worker
// never self-terminates on breach.
// 越限时监控器取消两个任务并通知管理进程一次；此后断开再杀死的流程由管理进程
// 负责。worker 越限时绝不自行终止。
package monitor

import (
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/memwarden/memwarden/internal/config"
	"github.com/memwarden/memwarden/internal/memstats"
	"github.com/memwarden/memwarden/internal/protocol"
	"github.com/memwarden/memwarden/internal/task"
)

// Link sends messages from this worker to the manager
// Link 将消息从本 worker 发送到管理进程
type Link interface {
	Send(msg protocol.Message) error
}

// ErrorHandler receives asynchronous monitor failures (e.g. a failed send
// over the fabric). Failures are surfaced, never retried.
// ErrorHandler 接收监控器的异步失败（例如 fabric 发送失败）。失败会被上报，
// 绝不重试。
type ErrorHandler func(err error)

// Monitor owns the two periodic sampling tasks of one worker process
// Monitor 拥有一个 worker 进程的两个周期采样任务
type Monitor struct {
	id     string
	pid    int
	cfg    config.SupervisionConfig
	link   Link
	logger *zap.Logger

	sample     memstats.SampleFunc
	errHandler ErrorHandler

	mu          sync.Mutex
	breached    bool
	logTask     *task.Task
	monitorTask *task.Task
}

// New creates a Monitor for the worker identified by id
// New 为 id 标识的 worker 创建 Monitor
func New(id string, link Link, cfg config.SupervisionConfig, logger *zap.Logger) *Monitor {
	m := &Monitor{
		id:     id,
		pid:    os.Getpid(),
		cfg:    cfg,
		link:   link,
		logger: logger,
		sample: memstats.Sample,
	}
	m.errHandler = func(err error) {
		m.logger.Error("monitor failure", zap.String("source", m.id), zap.Error(err))
	}
	return m
}

// SetSampleFunc replaces the memory sampler, for tests
// SetSampleFunc 替换内存采样器，用于测试
func (m *Monitor) SetSampleFunc(fn memstats.SampleFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sample = fn
}

// SetErrorHandler replaces the asynchronous error handler
// SetErrorHandler 替换异步错误处理器
func (m *Monitor) SetErrorHandler(h ErrorHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errHandler = h
}

// Start launches the enabled periodic tasks. A non-positive period disables
// the corresponding task entirely.
// Start 启动已启用的周期任务。非正周期完全禁用对应任务。
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.LogTaskEnabled() && m.logTask == nil {
		m.logTask = task.Repeat(m.cfg.LogPeriod, m.logUsage)
	}
	if m.cfg.MonitorTaskEnabled() && m.monitorTask == nil {
		m.monitorTask = task.Repeat(m.cfg.MonitorPeriod, m.checkLimit)
	}
}

// Stop cancels both tasks. Safe to call repeatedly.
// Stop 取消两个任务。可以重复调用。
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTasksLocked()
}

// Breached reports whether this worker already signalled a breach
// Breached 报告本 worker 是否已经发出过越限信号
func (m *Monitor) Breached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.breached
}

// cancelTasksLocked cancels both tasks; cancellation is idempotent.
// Must be called with mu held.
// cancelTasksLocked 取消两个任务；取消操作幂等。调用时必须持有 mu。
func (m *Monitor) cancelTasksLocked() {
	if m.logTask != nil {
		m.logTask.Cancel()
	}
	if m.monitorTask != nil {
		m.monitorTask.Cancel()
	}
}

// CheckNow runs one breach check immediately, outside the periodic cadence
// CheckNow 立即执行一次越限检查，不受周期节奏限制
func (m *Monitor) CheckNow() {
	m.checkLimit()
}

// logUsage emits one structured memory-usage record. Pure side effect.
// logUsage 输出一条结构化内存使用记录。纯副作用。
func (m *Monitor) logUsage() {
	m.mu.Lock()
	if m.breached {
		m.mu.Unlock()
		return
	}
	sample := m.sample
	m.mu.Unlock()

	usage, err := sample()
	if err != nil {
		m.errHandler(err)
		return
	}

	m.logger.Info("memory usage",
		zap.String("source", m.id),
		zap.Int("pid", m.pid),
		zap.Uint64("measure#rss", usage.RSS),
		zap.Uint64("measure#heapTotal", usage.HeapTotal),
		zap.Uint64("measure#heapUsed", usage.HeapUsed))
}

// checkLimit samples RSS and drives the breach protocol. The breach check
// and the cancellation of both tasks happen under one lock, so no task fires
// again once the breach is recorded. The check is strictly greater-than:
// exactly at the limit does not trigger.
// checkLimit 采样 RSS 并驱动越限协议。越限判断与两个任务的取消在同一把锁内
// 完成，越限记录后任何任务都不会再触发。判断为严格大于：恰好等于限制不触发。
func (m *Monitor) checkLimit() {
	m.mu.Lock()
	if m.breached {
		m.mu.Unlock()
		return
	}
	sample := m.sample
	m.mu.Unlock()

	usage, err := sample()
	if err != nil {
		m.errHandler(err)
		return
	}

	if usage.RSS <= m.cfg.MemoryLimit {
		return
	}

	m.mu.Lock()
	if m.breached {
		m.mu.Unlock()
		return
	}
	m.breached = true
	m.cancelTasksLocked()
	m.mu.Unlock()

	m.logger.Warn("memory limit exceeded",
		zap.String("source", m.id),
		zap.Int("pid", m.pid),
		zap.Uint64("measure#rss", usage.RSS),
		zap.Uint64("limit", m.cfg.MemoryLimit))

	// At-most-once breach notification; a send failure is surfaced, not
	// retried.
	// 越限通知最多一次；发送失败会被上报，不重试。
	if err := m.link.Send(protocol.Message{
		Kind:   protocol.KindWorkerExceededMemory,
		Worker: m.id,
		PID:    m.pid,
	}); err != nil {
		m.errHandler(err)
	}
}
