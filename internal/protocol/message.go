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

// Package protocol defines the typed messages exchanged between the manager
// and its workers over the process fabric.
// protocol 包定义管理进程与 worker 进程之间通过进程通道交换的类型化消息。
//
// The message set is a closed enum: decoding rejects any tag that is not
// part of it, so the protocol stays exhaustively checkable.
// 消息集合是封闭枚举：解码会拒绝任何不属于它的标签，使协议可被穷举检查。
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies a message variant
// Kind 标识消息变体
type Kind string

const (
	// KindWorkerExceededMemory is sent by a worker whose resident set size
	// breached the configured memory limit. Worker -> manager, at most once
	// per worker lifetime.
	// KindWorkerExceededMemory 由常驻内存超过配置限制的 worker 发送。
	// worker -> 管理进程，每个 worker 生命周期内最多一次。
	KindWorkerExceededMemory Kind = "workerExceededMemory"

	// KindDisconnectRequest asks a worker to stop accepting new work, finish
	// in-flight work and exit. Manager -> worker.
	// KindDisconnectRequest 要求 worker 停止接受新任务、完成在途任务后退出。
	// 管理进程 -> worker。
	KindDisconnectRequest Kind = "disconnectRequest"
)

// ErrUnknownKind indicates a message tag outside the closed enum
// ErrUnknownKind 表示消息标签不在封闭枚举内
var ErrUnknownKind = errors.New("unknown message kind")

// Valid reports whether k belongs to the closed message enum
// Valid 报告 k 是否属于封闭的消息枚举
func (k Kind) Valid() bool {
	switch k {
	case KindWorkerExceededMemory, KindDisconnectRequest:
		return true
	}
	return false
}

// Message is a single protocol message
// Message 是一条协议消息
type Message struct {
	Kind   Kind   `json:"kind"`
	Worker string `json:"worker,omitempty"`
	PID    int    `json:"pid,omitempty"`
}

// Encode serializes a message to its wire form
// Encode 将消息序列化为线上格式
func Encode(msg Message) ([]byte, error) {
	if !msg.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, msg.Kind)
	}
	return json.Marshal(msg)
}

// Decode parses a wire-form message and validates its kind against the
// closed enum
// Decode 解析线上格式的消息，并根据封闭枚举校验其类型
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if !msg.Kind.Valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownKind, msg.Kind)
	}
	return msg, nil
}
