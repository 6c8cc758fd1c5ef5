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

// Package task provides a small repeating-task abstraction: a fixed-period
// callback with an explicit handle whose cancellation is idempotent.
// task 包提供一个小型周期任务抽象：固定周期回调，返回显式句柄，取消操作幂等。
package task

import (
	"sync"
	"time"
)

// Task is the handle of a running repeating task
// Task 是运行中周期任务的句柄
type Task struct {
	cancelOnce sync.Once
	done       chan struct{}
}

// Repeat starts a repeating task that invokes fn every interval until the
// returned handle is cancelled. The callback may cancel its own task.
// Repeat 启动一个周期任务，每隔 interval 调用一次 fn，直到返回的句柄被取消。
// 回调可以取消自己所属的任务。
func Repeat(interval time.Duration, fn func()) *Task {
	t := &Task{done: make(chan struct{})}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-t.done:
				return
			case <-ticker.C:
				// Re-check after waking: a tick may already be queued when
				// the task is cancelled.
				// 唤醒后再次检查：任务被取消时可能已有一次 tick 在队列中。
				select {
				case <-t.done:
					return
				default:
				}
				fn()
			}
		}
	}()

	return t
}

// Cancel stops the task. Cancelling an already-cancelled task is safe.
// Cancel 停止任务。取消一个已取消的任务是安全的。
func (t *Task) Cancel() {
	t.cancelOnce.Do(func() {
		close(t.done)
	})
}

// Cancelled reports whether the task has been cancelled
// Cancelled 报告任务是否已被取消
func (t *Task) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
