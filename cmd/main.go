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

// Package main is the entry point for MemWarden.
// main 包是 MemWarden 的入口点。
//
// The same binary runs as two processes:
// 同一个二进制文件以两种进程身份运行：
// - manager (root command): forks workers, supervises their memory and
//   retires breaching workers / 管理进程（根命令）：派生 worker、监管其内存
//   并淘汰越限的 worker
// - worker (hidden subcommand, spawned by the fabric): samples its own
//   memory and reports breaches / worker（隐藏子命令，由 fabric 派生）：
//   采样自身内存并报告越限
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/memwarden/memwarden/internal/api"
	"github.com/memwarden/memwarden/internal/config"
	"github.com/memwarden/memwarden/internal/fabric"
	"github.com/memwarden/memwarden/internal/logging"
	"github.com/memwarden/memwarden/internal/monitor"
	"github.com/memwarden/memwarden/internal/protocol"
	"github.com/memwarden/memwarden/internal/supervisor"
)

// Version information, set at build time
// 版本信息，在构建时设置
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// configFile is the path to the configuration file
// configFile 是配置文件的路径
var configFile string

// workerID is the identifier the fabric assigns to a forked worker
// workerID 是 fabric 分配给派生 worker 的标识符
var workerID string

var rootCmd = &cobra.Command{
	Use:   "memwarden",
	Short: "Fleet memory supervisor / 集群内存监管器",
	Long: "MemWarden forks a fleet of worker processes, watches each worker's\n" +
		"resident memory, and retires any worker that exceeds the configured\n" +
		"limit: graceful disconnect first, forced kill after a timeout, then\n" +
		"exactly one replacement fork.",
	RunE: runManager,
}

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run as a supervised worker (spawned by the manager) / 作为被监管的 worker 运行（由管理进程派生）",
	Hidden: true,
	RunE:   runWorker,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information / 打印版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("MemWarden\n")
		fmt.Printf("  Version:    %s\n", Version)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Go Version: %s\n", runtime.Version())
		fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML / 以 YAML 打印生效的配置",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to render config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default: /etc/memwarden/config.yaml)")
	workerCmd.Flags().StringVar(&workerID, "id", "", "worker identifier assigned by the manager")

	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

// runManager is the manager process entry point
// runManager 是管理进程的入口点
func runManager(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w / 加载配置失败：%w", err, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w / 无效配置：%w", err, err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate own binary: %w", err)
	}

	// Workers run the hidden worker subcommand of this same binary
	// worker 运行本二进制文件的隐藏 worker 子命令
	workerArgs := []string{"worker"}
	if configFile != "" {
		workerArgs = append(workerArgs, "--config", configFile)
	}

	fab := fabric.NewExecFabric(self, workerArgs, logger)
	sup := supervisor.New(fab, cfg.Supervision, logger)
	sup.Start()

	count := cfg.Workers.Count
	if count == 0 {
		count = runtime.NumCPU()
	}

	logger.Info("manager starting",
		zap.String("source", "master"),
		zap.String("version", Version),
		zap.Int("workers", count),
		zap.Uint64("memory_limit", cfg.Supervision.MemoryLimit),
		zap.Duration("monitor_period", cfg.Supervision.MonitorPeriod),
		zap.Duration("disconnect_timeout", cfg.Supervision.DisconnectTimeout))

	// Initial fleet; a fork failure at startup is fatal
	// 初始进程组；启动时派生失败是致命错误
	for i := 0; i < count; i++ {
		if _, err := fab.Fork(); err != nil {
			return fmt.Errorf("failed to fork initial worker: %w", err)
		}
	}

	errChan := make(chan error, 1)
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg.API.Listen, sup, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				errChan <- fmt.Errorf("status API failed: %w", err)
			}
		}()
	}

	// Wait for a shutdown signal or a fatal component error
	// 等待关闭信号或致命组件错误
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("shutting down on signal",
			zap.String("source", "master"),
			zap.String("signal", sig.String()))
	case err := <-errChan:
		logger.Error("shutting down on error", zap.String("source", "master"), zap.Error(err))
	}

	// Stop supervising first so worker exits during shutdown are not
	// replaced, then disconnect the fleet.
	// 先停止监管，使关闭期间的 worker 退出不会被替换，然后断开整个进程组。
	sup.Stop()
	for _, w := range fab.Workers() {
		if err := w.Disconnect(); err != nil {
			logger.Warn("failed to disconnect worker during shutdown",
				zap.String("source", "master"),
				zap.String("worker", w.ID()),
				zap.Error(err))
		}
	}

	if apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(ctx); err != nil {
			logger.Warn("status API shutdown failed", zap.Error(err))
		}
	}

	return nil
}

// runWorker is the worker process entry point. It samples its own memory,
// reports a breach to the manager at most once, and exits when asked to
// disconnect.
// runWorker 是 worker 进程的入口点。它采样自身内存，最多向管理进程报告一次
// 越限，并在被要求断开时退出。
func runWorker(cmd *cobra.Command, args []string) error {
	if workerID == "" {
		return fmt.Errorf("--id is required (workers are spawned by the manager)")
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	endpoint, err := fabric.InheritedEndpoint()
	if err != nil {
		return fmt.Errorf("failed to open fabric channel: %w", err)
	}

	mon := monitor.New(workerID, endpoint, cfg.Supervision, logger)
	mon.Start()

	logger.Info("worker started",
		zap.String("source", workerID),
		zap.Int("pid", os.Getpid()))

	// Block until the manager requests a disconnect or closes its end.
	// Closing the endpoint signals disconnect completion to the manager.
	// 阻塞直到管理进程请求断开或关闭其端点。关闭本端点即向管理进程表示断开完成。
	err = endpoint.Receive(func(msg protocol.Message) {
		if msg.Kind != protocol.KindDisconnectRequest {
			return
		}
		logger.Info("disconnect requested, draining",
			zap.String("source", workerID),
			zap.Int("pid", os.Getpid()))
		mon.Stop()
		_ = endpoint.Close()
	})
	if err != nil {
		return fmt.Errorf("fabric channel failed: %w", err)
	}

	mon.Stop()
	logger.Info("worker exiting",
		zap.String("source", workerID),
		zap.Int("pid", os.Getpid()))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
