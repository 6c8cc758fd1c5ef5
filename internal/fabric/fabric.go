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

// Package fabric is the process substrate connecting the manager and its
// workers: forking, listing, typed messaging, graceful disconnect and
// forceful kill.
// fabric 包是连接管理进程与 worker 的进程基础设施：派生、列举、类型化消息、
// 优雅断开和强制杀死。
//
// The Supervisor depends only on the interfaces below, so several
// supervisors over fake fabrics can coexist in tests. Event listeners are
// registered explicitly on the fabric instance, never on ambient global
// state.
// Supervisor 仅依赖下面的接口，因此测试中可以有多个基于假 fabric 的
// supervisor 共存。事件监听器在 fabric 实例上显式注册，而非环境全局状态。
package fabric

import "github.com/memwarden/memwarden/internal/protocol"

// Worker is a non-owning handle of one worker process
// Worker 是一个 worker 进程的非拥有句柄
type Worker interface {
	// ID returns the stable worker identifier
	// ID 返回稳定的 worker 标识符
	ID() string

	// PID returns the worker's OS process id
	// PID 返回 worker 的操作系统进程 ID
	PID() int

	// Send delivers a typed message to the worker
	// Send 向 worker 投递一条类型化消息
	Send(msg protocol.Message) error

	// Disconnect requests a graceful disconnect: the worker stops accepting
	// new work, finishes in-flight work and exits
	// Disconnect 请求优雅断开：worker 停止接受新任务，完成在途任务后退出
	Disconnect() error

	// Kill sends an interrupt-class termination signal to the worker
	// Kill 向 worker 发送中断类终止信号
	Kill() error
}

// ForkHandler is invoked for every newly forked worker
// ForkHandler 在每个新派生的 worker 上被调用
type ForkHandler func(w Worker)

// MessageHandler is invoked for every message a worker sends to the manager
// MessageHandler 在 worker 向管理进程发送消息时被调用
type MessageHandler func(w Worker, msg protocol.Message)

// DisconnectHandler is invoked when a worker completes its disconnect
// DisconnectHandler 在 worker 完成断开时被调用
type DisconnectHandler func(w Worker)

// ExitHandler is invoked when a worker process has fully exited
// ExitHandler 在 worker 进程完全退出后被调用
type ExitHandler func(w Worker)

// Fabric is the manager-side view of the process substrate
// Fabric 是进程基础设施在管理进程侧的视图
type Fabric interface {
	// Fork creates one new worker
	// Fork 创建一个新 worker
	Fork() (Worker, error)

	// Workers lists the currently live workers
	// Workers 列举当前存活的 worker
	Workers() []Worker

	OnFork(h ForkHandler)
	OnMessage(h MessageHandler)
	OnDisconnect(h DisconnectHandler)
	OnExit(h ExitHandler)
}
