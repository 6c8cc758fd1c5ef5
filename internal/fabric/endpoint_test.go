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
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memwarden/memwarden/internal/protocol"
)

// pipePair builds two endpoints wired to each other, like the channel
// between a manager and a forked worker.
// pipePair 构建两个互相连接的端点，类似管理进程与派生 worker 之间的通道。
func pipePair(t *testing.T) (manager, worker *Endpoint) {
	t.Helper()

	m2wR, m2wW, err := os.Pipe()
	require.NoError(t, err)
	w2mR, w2mW, err := os.Pipe()
	require.NoError(t, err)

	manager = NewEndpoint(w2mR, m2wW)
	worker = NewEndpoint(m2wR, w2mW)
	t.Cleanup(func() {
		_ = manager.Close()
		_ = worker.Close()
	})
	return manager, worker
}

func receiveAll(e *Endpoint) (<-chan protocol.Message, <-chan error) {
	msgs := make(chan protocol.Message, 16)
	errs := make(chan error, 1)
	go func() {
		errs <- e.Receive(func(msg protocol.Message) {
			msgs <- msg
		})
		close(msgs)
	}()
	return msgs, errs
}

func TestSendReceiveRoundtrip(t *testing.T) {
	manager, worker := pipePair(t)
	msgs, _ := receiveAll(manager)

	sent := protocol.Message{Kind: protocol.KindWorkerExceededMemory, Worker: "worker-3", PID: 777}
	require.NoError(t, worker.Send(sent))

	select {
	case got := <-msgs:
		assert.Equal(t, sent, got)
	case <-time.After(time.Second):
		t.Fatal("message never arrived")
	}
}

func TestUndecodableLinesAreSkipped(t *testing.T) {
	manager, worker := pipePair(t)
	msgs, _ := receiveAll(manager)

	// Raw garbage on the wire must not break subsequent messages
	// 线路上的原始垃圾数据不得破坏后续消息
	worker.writeMu.Lock()
	_, err := worker.out.Write([]byte("not json at all\n"))
	worker.writeMu.Unlock()
	require.NoError(t, err)

	require.NoError(t, worker.Send(protocol.Message{Kind: protocol.KindDisconnectRequest}))

	select {
	case got := <-msgs:
		assert.Equal(t, protocol.KindDisconnectRequest, got.Kind)
	case <-time.After(time.Second):
		t.Fatal("valid message after garbage never arrived")
	}
}

func TestCloseEndsReceiveCleanly(t *testing.T) {
	manager, worker := pipePair(t)
	_, errs := receiveAll(manager)

	require.NoError(t, worker.Close())

	select {
	case err := <-errs:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("receive did not end after peer closed")
	}
}

func TestSendAfterPeerCloseFails(t *testing.T) {
	manager, worker := pipePair(t)
	require.NoError(t, manager.Close())

	// The worker's next send hits a closed read end
	// worker 的下一次发送会碰到已关闭的读端
	err := worker.Send(protocol.Message{Kind: protocol.KindWorkerExceededMemory, Worker: "w", PID: 1})
	assert.Error(t, err)
}
