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

// Package supervisor runs in the manager process and retires workers that
// report a memory limit breach.
// supervisor 包运行在管理进程中，淘汰报告内存越限的 worker。
//
// Per-worker retirement state machine:
// 每个 worker 的淘汰状态机：
//
//	Running -> Disconnecting -> {Disconnected | ForceKilled}
//
// A breach notification moves the worker to Disconnecting: the supervisor
// requests a graceful disconnect and arms a kill-timeout. Disconnect
// completion before the timeout cancels it; otherwise the timeout sends one
// interrupt-class kill. Either way, once the worker fully exits exactly one
// replacement is forked.
// 越限通知将 worker 置于 Disconnecting：supervisor 请求优雅断开并启动杀死
// 超时。超时前断开完成则取消超时；否则超时发送一次中断类杀死信号。无论哪种
// 方式，worker 完全退出后恰好派生一个替代者。
package supervisor

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/memwarden/memwarden/internal/config"
	"github.com/memwarden/memwarden/internal/fabric"
	"github.com/memwarden/memwarden/internal/protocol"
)

// State is the retirement state of one worker
// State 是一个 worker 的淘汰状态
type State string

const (
	// StateRunning means no breach episode exists for the worker
	// StateRunning 表示该 worker 没有越限事件
	StateRunning State = "running"

	// StateDisconnecting means a graceful disconnect was requested and the
	// kill-timeout is armed
	// StateDisconnecting 表示已请求优雅断开且杀死超时已启动
	StateDisconnecting State = "disconnecting"

	// StateDisconnected means the worker disconnected before the timeout.
	// Terminal: no forced kill occurs.
	// StateDisconnected 表示 worker 在超时前完成断开。终态：不会强制杀死。
	StateDisconnected State = "disconnected"

	// StateForceKilled means the kill-timeout expired and the worker was
	// forcefully terminated. Terminal.
	// StateForceKilled 表示杀死超时已到且 worker 被强制终止。终态。
	StateForceKilled State = "forceKilled"
)

// Counters are the lifecycle totals the supervisor logs and exposes
// Counters 是 supervisor 记录并暴露的生命周期计数
type Counters struct {
	// WorkerExceededMemory counts breach notifications accepted
	// WorkerExceededMemory 统计已受理的越限通知
	WorkerExceededMemory uint64 `json:"worker_exceeded_memory"`

	// WorkerDisconnectFailed counts kill-timeouts that expired
	// WorkerDisconnectFailed 统计到期的杀死超时
	WorkerDisconnectFailed uint64 `json:"worker_disconnect_failed"`

	// WorkersRetired counts fully exited workers that were replaced
	// WorkersRetired 统计已完全退出并被替换的 worker
	WorkersRetired uint64 `json:"workers_retired"`
}

// WorkerStatus is one entry of a supervision snapshot
// WorkerStatus 是监管快照中的一个条目
type WorkerStatus struct {
	ID    string `json:"id"`
	PID   int    `json:"pid"`
	State State  `json:"state"`
}

// ErrorHandler receives asynchronous supervision failures (fork failure,
// signal delivery failure). Failures are surfaced, never retried.
// ErrorHandler 接收监管过程中的异步失败（派生失败、信号投递失败）。
// 失败会被上报，绝不重试。
type ErrorHandler func(err error)

// episode is the supervision state of one breaching worker. It exists from
// the breach notification until the worker exits, and carries the only
// kill-timeout the worker can ever have.
// episode 是一个越限 worker 的监管状态。从越限通知存在到 worker 退出，
// 持有该 worker 唯一可能拥有的杀死超时。
type episode struct {
	worker    fabric.Worker
	state     State
	killTimer *time.Timer
	replaced  bool
}

// Supervisor tracks every worker of one fabric and drives the retirement
// protocol
// Supervisor 跟踪一个 fabric 的全部 worker 并驱动淘汰协议
type Supervisor struct {
	fab    fabric.Fabric
	cfg    config.SupervisionConfig
	logger *zap.Logger

	mu         sync.Mutex
	started    bool
	stopped    bool
	episodes   map[string]*episode
	counters   Counters
	errHandler ErrorHandler
}

// New creates a Supervisor over the given fabric
// New 在给定的 fabric 上创建 Supervisor
func New(fab fabric.Fabric, cfg config.SupervisionConfig, logger *zap.Logger) *Supervisor {
	s := &Supervisor{
		fab:      fab,
		cfg:      cfg,
		logger:   logger,
		episodes: make(map[string]*episode),
	}
	s.errHandler = func(err error) {
		s.logger.Error("supervision failure", zap.String("source", "master"), zap.Error(err))
	}
	return s
}

// SetErrorHandler replaces the asynchronous error handler
// SetErrorHandler 替换异步错误处理器
func (s *Supervisor) SetErrorHandler(h ErrorHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errHandler = h
}

// Start registers the supervisor's listeners on the fabric. Idempotent.
// Start 在 fabric 上注册 supervisor 的监听器。幂等。
func (s *Supervisor) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.fab.OnFork(s.handleFork)
	s.fab.OnMessage(s.handleMessage)
	s.fab.OnDisconnect(s.handleDisconnect)
	s.fab.OnExit(s.handleExit)
}

// Stop disarms every pending kill-timeout and makes further events no-ops
// Stop 解除所有待触发的杀死超时，并使后续事件成为空操作
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for _, ep := range s.episodes {
		if ep.killTimer != nil {
			ep.killTimer.Stop()
		}
	}
}

// Counters returns a copy of the lifecycle totals
// Counters 返回生命周期计数的副本
func (s *Supervisor) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// Snapshot lists the live workers with their retirement state
// Snapshot 列举存活的 worker 及其淘汰状态
func (s *Supervisor) Snapshot() []WorkerStatus {
	workers := s.fab.Workers()

	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]WorkerStatus, 0, len(workers))
	for _, w := range workers {
		state := StateRunning
		if ep, ok := s.episodes[w.ID()]; ok {
			state = ep.state
		}
		statuses = append(statuses, WorkerStatus{ID: w.ID(), PID: w.PID(), State: state})
	}
	return statuses
}

// handleFork logs every newly created worker
// handleFork 记录每个新创建的 worker
func (s *Supervisor) handleFork(w fabric.Worker) {
	s.logger.Info("worker online",
		zap.String("source", "master"),
		zap.String("worker", w.ID()),
		zap.Int("pid", w.PID()))
}

// handleMessage dispatches worker messages by kind
// handleMessage 按类型分发 worker 消息
func (s *Supervisor) handleMessage(w fabric.Worker, msg protocol.Message) {
	switch msg.Kind {
	case protocol.KindWorkerExceededMemory:
		s.beginRetirement(w)
	case protocol.KindDisconnectRequest:
		// Manager-to-worker only; a worker sending it is a protocol misuse.
		// 仅限管理进程发往 worker；worker 发送它属于协议误用。
		s.logger.Warn("unexpected disconnectRequest from worker",
			zap.String("source", "master"),
			zap.String("worker", w.ID()))
	}
}

// beginRetirement performs Running -> Disconnecting: counts the breach,
// requests a graceful disconnect and arms the kill-timeout. A worker with an
// existing episode is ignored, so at most one kill-timeout is ever armed per
// worker.
// beginRetirement 执行 Running -> Disconnecting：统计越限、请求优雅断开并
// 启动杀死超时。已有 episode 的 worker 被忽略，因此每个 worker 最多只会有
// 一个杀死超时。
func (s *Supervisor) beginRetirement(w fabric.Worker) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if _, ok := s.episodes[w.ID()]; ok {
		s.mu.Unlock()
		s.logger.Debug("duplicate breach notification ignored",
			zap.String("source", "master"),
			zap.String("worker", w.ID()))
		return
	}

	ep := &episode{worker: w, state: StateDisconnecting}
	s.episodes[w.ID()] = ep
	s.counters.WorkerExceededMemory++
	exceeded := s.counters.WorkerExceededMemory
	s.mu.Unlock()

	s.logger.Warn("worker exceeded memory, disconnecting",
		zap.String("source", "master"),
		zap.String("message", "worker exceeded memory limit"),
		zap.String("worker", w.ID()),
		zap.Int("pid", w.PID()),
		zap.Uint64("count#worker-exceeded-memory", exceeded))

	// A failed disconnect request is surfaced but the timeout is still
	// armed: the unresponsive worker gets killed when the window closes.
	// 断开请求失败会被上报，但超时仍然启动：窗口结束时无响应的 worker 被杀死。
	if err := w.Disconnect(); err != nil {
		s.fail(fmt.Errorf("disconnect worker %s: %w", w.ID(), err))
	}

	s.mu.Lock()
	if ep.state == StateDisconnecting {
		id := w.ID()
		ep.killTimer = time.AfterFunc(s.cfg.DisconnectTimeout, func() {
			s.forceKill(id)
		})
	}
	s.mu.Unlock()
}

// handleDisconnect performs Disconnecting -> Disconnected when the worker's
// disconnect completes before the timeout. The episode leaves Disconnecting
// exactly once, so repeated disconnect events cannot cancel anything twice.
// handleDisconnect 在 worker 于超时前完成断开时执行 Disconnecting ->
// Disconnected。episode 只会离开 Disconnecting 一次，重复的断开事件不可能
// 取消任何东西两次。
func (s *Supervisor) handleDisconnect(w fabric.Worker) {
	s.mu.Lock()
	ep, ok := s.episodes[w.ID()]
	if !ok || ep.state != StateDisconnecting {
		s.mu.Unlock()
		return
	}
	if ep.killTimer != nil && !ep.killTimer.Stop() {
		// Timeout already fired; the ForceKilled transition owns this
		// episode.
		// 超时已触发；该 episode 归 ForceKilled 转换所有。
		s.mu.Unlock()
		return
	}
	ep.state = StateDisconnected
	s.mu.Unlock()

	s.logger.Info("worker disconnected gracefully",
		zap.String("source", "master"),
		zap.String("worker", w.ID()),
		zap.Int("pid", w.PID()))
}

// forceKill performs Disconnecting -> ForceKilled on kill-timeout expiry
// forceKill 在杀死超时到期时执行 Disconnecting -> ForceKilled
func (s *Supervisor) forceKill(id string) {
	s.mu.Lock()
	ep, ok := s.episodes[id]
	if !ok || ep.state != StateDisconnecting || s.stopped {
		s.mu.Unlock()
		return
	}
	ep.state = StateForceKilled
	s.counters.WorkerDisconnectFailed++
	failed := s.counters.WorkerDisconnectFailed
	w := ep.worker
	s.mu.Unlock()

	s.logger.Error("worker failed to disconnect in time, killing",
		zap.String("source", "master"),
		zap.String("message", "worker did not disconnect within timeout"),
		zap.String("worker", w.ID()),
		zap.Int("pid", w.PID()),
		zap.Uint64("count#worker-disconnect-failed", failed))

	if err := w.Kill(); err != nil {
		s.fail(fmt.Errorf("kill worker %s: %w", w.ID(), err))
	}
}

// handleExit closes the episode once the worker has fully exited and forks
// exactly one replacement. Exits without a breach episode are not ours to
// replace.
// handleExit 在 worker 完全退出后关闭 episode 并恰好派生一个替代者。
// 没有越限 episode 的退出不由我们替换。
func (s *Supervisor) handleExit(w fabric.Worker) {
	s.mu.Lock()
	ep, ok := s.episodes[w.ID()]
	if !ok || ep.replaced || s.stopped {
		s.mu.Unlock()
		return
	}
	ep.replaced = true
	if ep.killTimer != nil {
		ep.killTimer.Stop()
	}
	if ep.state == StateDisconnecting {
		// Exited inside the grace window without a separate disconnect
		// event: count it as a graceful disconnect.
		// 在宽限窗口内退出且没有单独的断开事件：视为优雅断开。
		ep.state = StateDisconnected
	}
	finalState := ep.state
	delete(s.episodes, w.ID())
	s.counters.WorkersRetired++
	retired := s.counters.WorkersRetired
	s.mu.Unlock()

	s.logger.Info("worker retired, forking replacement",
		zap.String("source", "master"),
		zap.String("message", "worker disconnected and killed"),
		zap.String("worker", w.ID()),
		zap.Int("pid", w.PID()),
		zap.String("state", string(finalState)),
		zap.Uint64("count#worker-disconnected-and-killed", retired))

	if _, err := s.fab.Fork(); err != nil {
		s.fail(fmt.Errorf("fork replacement for worker %s: %w", w.ID(), err))
	}
}

// fail surfaces an asynchronous failure through the error handler
// fail 通过错误处理器上报异步失败
func (s *Supervisor) fail(err error) {
	s.mu.Lock()
	h := s.errHandler
	s.mu.Unlock()
	h(err)
}
