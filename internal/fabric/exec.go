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
	"fmt"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/memwarden/memwarden/internal/protocol"
)

// ExecFabric forks workers by re-execing the manager binary with a worker
// subcommand. Messages travel as newline-delimited JSON over two inherited
// pipes: the worker reads from fd 3 and writes to fd 4.
// ExecFabric 通过以 worker 子命令重新执行管理进程的二进制文件来派生 worker。
// 消息以换行分隔的 JSON 在两条继承的管道上传输：worker 从 fd 3 读、向 fd 4 写。
//
// Disconnect completion is observed as EOF on the worker->manager pipe;
// process exit is observed via Wait.
// 断开完成表现为 worker->管理进程管道上的 EOF；进程退出通过 Wait 观察。
type ExecFabric struct {
	binary   string
	baseArgs []string
	logger   *zap.Logger

	mu                 sync.Mutex
	seq                int
	workers            map[string]*execWorker
	forkHandlers       []ForkHandler
	messageHandlers    []MessageHandler
	disconnectHandlers []DisconnectHandler
	exitHandlers       []ExitHandler
}

// NewExecFabric creates an ExecFabric. Forked workers run
// `binary baseArgs... --id <worker-id>`.
// NewExecFabric 创建 ExecFabric。派生的 worker 运行
// `binary baseArgs... --id <worker-id>`。
func NewExecFabric(binary string, baseArgs []string, logger *zap.Logger) *ExecFabric {
	return &ExecFabric{
		binary:   binary,
		baseArgs: baseArgs,
		logger:   logger,
		workers:  make(map[string]*execWorker),
	}
}

// OnFork registers a handler for newly forked workers
// OnFork 注册新派生 worker 的处理器
func (f *ExecFabric) OnFork(h ForkHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forkHandlers = append(f.forkHandlers, h)
}

// OnMessage registers a handler for worker messages
// OnMessage 注册 worker 消息的处理器
func (f *ExecFabric) OnMessage(h MessageHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messageHandlers = append(f.messageHandlers, h)
}

// OnDisconnect registers a handler for worker disconnect completion
// OnDisconnect 注册 worker 断开完成的处理器
func (f *ExecFabric) OnDisconnect(h DisconnectHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectHandlers = append(f.disconnectHandlers, h)
}

// OnExit registers a handler for worker process exit
// OnExit 注册 worker 进程退出的处理器
func (f *ExecFabric) OnExit(h ExitHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exitHandlers = append(f.exitHandlers, h)
}

// Fork starts one new worker process
// Fork 启动一个新的 worker 进程
func (f *ExecFabric) Fork() (Worker, error) {
	f.mu.Lock()
	f.seq++
	id := fmt.Sprintf("worker-%d", f.seq)
	f.mu.Unlock()

	// Parent keeps toChildW and fromChildR; the child inherits the other
	// ends as fd 3 and fd 4.
	// 父进程保留 toChildW 和 fromChildR；子进程以 fd 3 和 fd 4 继承另一端。
	toChildR, toChildW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("fork %s: create pipe: %w", id, err)
	}
	fromChildR, fromChildW, err := os.Pipe()
	if err != nil {
		toChildR.Close()
		toChildW.Close()
		return nil, fmt.Errorf("fork %s: create pipe: %w", id, err)
	}

	args := make([]string, 0, len(f.baseArgs)+2)
	args = append(args, f.baseArgs...)
	args = append(args, "--id", id)

	cmd := exec.Command(f.binary, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{toChildR, fromChildW}
	setProcGroupAttr(cmd)

	if err := cmd.Start(); err != nil {
		toChildR.Close()
		toChildW.Close()
		fromChildR.Close()
		fromChildW.Close()
		return nil, fmt.Errorf("fork %s: %w", id, err)
	}

	// Close the child's ends in the parent so EOF propagates
	// 在父进程中关闭子进程端，使 EOF 能够传播
	toChildR.Close()
	fromChildW.Close()

	w := &execWorker{id: id, cmd: cmd, out: toChildW}

	f.mu.Lock()
	f.workers[id] = w
	forkHandlers := append([]ForkHandler(nil), f.forkHandlers...)
	f.mu.Unlock()

	f.logger.Info("forked worker",
		zap.String("worker", id),
		zap.Int("pid", w.PID()))

	go f.readLoop(w, fromChildR)
	go f.waitLoop(w)

	for _, h := range forkHandlers {
		h(w)
	}

	return w, nil
}

// Workers lists the currently live workers
// Workers 列举当前存活的 worker
func (f *ExecFabric) Workers() []Worker {
	f.mu.Lock()
	defer f.mu.Unlock()

	workers := make([]Worker, 0, len(f.workers))
	for _, w := range f.workers {
		workers = append(workers, w)
	}
	return workers
}

// readLoop decodes worker messages until the worker closes its pipe, which
// signals disconnect completion.
// readLoop 解码 worker 消息，直到 worker 关闭其管道，即断开完成。
func (f *ExecFabric) readLoop(w *execWorker, r *os.File) {
	defer r.Close()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		msg, err := protocol.Decode(scanner.Bytes())
		if err != nil {
			f.logger.Warn("dropping undecodable worker message",
				zap.String("worker", w.id),
				zap.Error(err))
			continue
		}

		f.mu.Lock()
		handlers := append([]MessageHandler(nil), f.messageHandlers...)
		f.mu.Unlock()
		for _, h := range handlers {
			h(w, msg)
		}
	}

	if err := scanner.Err(); err != nil {
		f.logger.Warn("worker pipe read failed",
			zap.String("worker", w.id),
			zap.Error(err))
	}

	f.mu.Lock()
	handlers := append([]DisconnectHandler(nil), f.disconnectHandlers...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(w)
	}
}

// waitLoop reaps the worker process and fires exit handlers
// waitLoop 回收 worker 进程并触发退出处理器
func (f *ExecFabric) waitLoop(w *execWorker) {
	err := w.cmd.Wait()

	f.mu.Lock()
	delete(f.workers, w.id)
	handlers := append([]ExitHandler(nil), f.exitHandlers...)
	f.mu.Unlock()

	f.logger.Info("worker exited",
		zap.String("worker", w.id),
		zap.Int("pid", w.PID()),
		zap.Error(err))

	for _, h := range handlers {
		h(w)
	}
}

// execWorker is the manager-side handle of a forked worker process
// execWorker 是派生的 worker 进程在管理进程侧的句柄
type execWorker struct {
	id  string
	cmd *exec.Cmd

	writeMu sync.Mutex
	out     *os.File
}

// ID returns the stable worker identifier
// ID 返回稳定的 worker 标识符
func (w *execWorker) ID() string {
	return w.id
}

// PID returns the worker's OS process id
// PID 返回 worker 的操作系统进程 ID
func (w *execWorker) PID() int {
	return w.cmd.Process.Pid
}

// Send writes one newline-delimited message to the worker
// Send 向 worker 写入一条换行分隔的消息
func (w *execWorker) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if _, err := w.out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("send to worker %s: %w", w.id, err)
	}
	return nil
}

// Disconnect asks the worker to drain and exit
// Disconnect 要求 worker 排空任务并退出
func (w *execWorker) Disconnect() error {
	return w.Send(protocol.Message{Kind: protocol.KindDisconnectRequest, Worker: w.id})
}

// Kill sends an interrupt-class signal, never SIGKILL
// Kill 发送中断类信号，绝不使用 SIGKILL
func (w *execWorker) Kill() error {
	if err := w.cmd.Process.Signal(os.Interrupt); err != nil {
		return fmt.Errorf("kill worker %s: %w", w.id, err)
	}
	return nil
}
