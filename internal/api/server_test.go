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

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/memwarden/memwarden/internal/config"
	"github.com/memwarden/memwarden/internal/fabric"
	"github.com/memwarden/memwarden/internal/protocol"
	"github.com/memwarden/memwarden/internal/supervisor"
)

type stubWorker struct {
	id  string
	pid int
}

func (w *stubWorker) ID() string                   { return w.id }
func (w *stubWorker) PID() int                     { return w.pid }
func (w *stubWorker) Send(protocol.Message) error  { return nil }
func (w *stubWorker) Disconnect() error            { return nil }
func (w *stubWorker) Kill() error                  { return nil }

type stubFabric struct {
	workers      []fabric.Worker
	forkHandlers []fabric.ForkHandler
	msgHandlers  []fabric.MessageHandler
}

func (f *stubFabric) Fork() (fabric.Worker, error) {
	w := &stubWorker{id: "worker-1", pid: 4321}
	f.workers = append(f.workers, w)
	for _, h := range f.forkHandlers {
		h(w)
	}
	return w, nil
}

func (f *stubFabric) Workers() []fabric.Worker            { return f.workers }
func (f *stubFabric) OnFork(h fabric.ForkHandler)         { f.forkHandlers = append(f.forkHandlers, h) }
func (f *stubFabric) OnMessage(h fabric.MessageHandler)   { f.msgHandlers = append(f.msgHandlers, h) }
func (f *stubFabric) OnDisconnect(fabric.DisconnectHandler) {}
func (f *stubFabric) OnExit(fabric.ExitHandler)             {}

func newTestServer(t *testing.T) (*Server, *stubFabric) {
	t.Helper()
	fab := &stubFabric{}
	sup := supervisor.New(fab, config.SupervisionConfig{
		LogPeriod:         10 * time.Second,
		MonitorPeriod:     10 * time.Second,
		MemoryLimit:       1000,
		DisconnectTimeout: time.Hour,
	}, zap.NewNop())
	sup.Start()
	return NewServer("127.0.0.1:0", sup, zap.NewNop()), fab
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := get(t, srv.Handler(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.NotEmpty(t, body.Timestamp)
}

func TestWorkersEndpoint(t *testing.T) {
	srv, fab := newTestServer(t)
	w, err := fab.Fork()
	require.NoError(t, err)

	rec := get(t, srv.Handler(), "/api/workers")
	require.Equal(t, http.StatusOK, rec.Code)

	var workers []supervisor.WorkerStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &workers))
	require.Len(t, workers, 1)
	assert.Equal(t, w.ID(), workers[0].ID)
	assert.Equal(t, w.PID(), workers[0].PID)
	assert.Equal(t, supervisor.StateRunning, workers[0].State)
}

func TestCountersEndpoint(t *testing.T) {
	srv, fab := newTestServer(t)
	w, err := fab.Fork()
	require.NoError(t, err)

	// A breach report drives the exceeded counter up
	// 一次越限上报会使越限计数增加
	for _, h := range fab.msgHandlers {
		h(w, protocol.Message{Kind: protocol.KindWorkerExceededMemory, Worker: w.ID(), PID: w.PID()})
	}

	rec := get(t, srv.Handler(), "/api/counters")
	require.Equal(t, http.StatusOK, rec.Code)

	var counters supervisor.Counters
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &counters))
	assert.Equal(t, uint64(1), counters.WorkerExceededMemory)
	assert.Equal(t, uint64(0), counters.WorkersRetired)
}

func TestOnlyGetIsRouted(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
