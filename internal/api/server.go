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

// Package api serves the manager's read-only status endpoints.
// api 包提供管理进程的只读状态端点。
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/memwarden/memwarden/internal/supervisor"
)

// HealthResponse is the body of the health endpoint
// HealthResponse 是健康检查端点的响应体
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Server exposes supervision state over HTTP
// Server 通过 HTTP 暴露监管状态
type Server struct {
	sup    *supervisor.Supervisor
	logger *zap.Logger
	srv    *http.Server
}

// NewServer creates the status API server
// NewServer 创建状态 API 服务器
func NewServer(listen string, sup *supervisor.Supervisor, logger *zap.Logger) *Server {
	s := &Server{sup: sup, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/workers", s.handleWorkers).Methods(http.MethodGet)
	r.HandleFunc("/api/counters", s.handleCounters).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:              listen,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the route table, e.g. for tests or embedding
// Handler 暴露路由表，例如用于测试或嵌入
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves the API until Shutdown is called
// Start 提供 API 服务直到 Shutdown 被调用
func (s *Server) Start() error {
	s.logger.Info("status API listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the API server gracefully
// Shutdown 优雅停止 API 服务器
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sup.Snapshot())
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sup.Counters())
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
