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

package fabric

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/memwarden/memwarden/internal/protocol"
)

// Child-side file descriptors of the pipes set up by ExecFabric.Fork
// ExecFabric.Fork 建立的管道在子进程侧的文件描述符
const (
	childReadFD  = 3
	childWriteFD = 4
)

// Endpoint is the worker-side end of the fabric channel. Closing it signals
// disconnect completion to the manager.
// Endpoint 是 fabric 通道在 worker 侧的端点。关闭它向管理进程表示断开完成。
type Endpoint struct {
	in *os.File

	writeMu sync.Mutex
	out     *os.File
}

// NewEndpoint wraps an already-open pipe pair
// NewEndpoint 包装一对已打开的管道
func NewEndpoint(in, out *os.File) *Endpoint {
	return &Endpoint{in: in, out: out}
}

// InheritedEndpoint opens the channel a forked worker inherits from the
// manager on fds 3 and 4.
// InheritedEndpoint 打开派生的 worker 从管理进程继承的 fd 3 和 fd 4 通道。
func InheritedEndpoint() (*Endpoint, error) {
	in := os.NewFile(uintptr(childReadFD), "fabric-in")
	out := os.NewFile(uintptr(childWriteFD), "fabric-out")
	if in == nil || out == nil {
		return nil, fmt.Errorf("fabric pipes not inherited (fds %d/%d)", childReadFD, childWriteFD)
	}
	return &Endpoint{in: in, out: out}, nil
}

// Send delivers a typed message to the manager
// Send 向管理进程投递一条类型化消息
func (e *Endpoint) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if _, err := e.out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("send to manager: %w", err)
	}
	return nil
}

// Receive decodes manager messages and hands them to handler until the
// manager closes its end or the endpoint is closed. Returns nil on a clean
// EOF.
// Receive 解码管理进程的消息并交给 handler 处理，直到管理进程关闭其端点或本端点
// 被关闭。干净的 EOF 返回 nil。
func (e *Endpoint) Receive(handler func(protocol.Message)) error {
	scanner := bufio.NewScanner(e.in)
	for scanner.Scan() {
		msg, err := protocol.Decode(scanner.Bytes())
		if err != nil {
			// Undecodable input from the manager is a protocol defect;
			// skip the line rather than abort the worker.
			// 来自管理进程的不可解码输入是协议缺陷；跳过该行而不是中止 worker。
			continue
		}
		handler(msg)
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("receive from manager: %w", err)
	}
	return nil
}

// Close closes both pipe ends. The manager observes the closed write end as
// disconnect completion.
// Close 关闭两端管道。管理进程将写端关闭视为断开完成。
func (e *Endpoint) Close() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	errIn := e.in.Close()
	errOut := e.out.Close()
	if errOut != nil {
		return errOut
	}
	return errIn
}
