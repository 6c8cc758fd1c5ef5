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

// Package memstats samples the memory usage of the current process.
// memstats 包采样当前进程的内存使用情况。
//
// RSS comes from the operating system (on Linux via /proc/self/statm), heap
// figures come from the Go runtime.
// RSS 来自操作系统（Linux 上通过 /proc/self/statm），堆指标来自 Go 运行时。
package memstats

import "runtime"

// Usage is a point-in-time memory sample for the current process
// Usage 是当前进程某一时刻的内存采样
type Usage struct {
	// RSS is the resident set size in bytes, the physical memory currently
	// held by the process
	// RSS 是常驻集大小（字节），即进程当前持有的物理内存
	RSS uint64

	// HeapTotal is the heap memory obtained from the OS, in bytes
	// HeapTotal 是从操作系统获得的堆内存（字节）
	HeapTotal uint64

	// HeapUsed is the heap memory in use by live objects, in bytes
	// HeapUsed 是活跃对象占用的堆内存（字节）
	HeapUsed uint64
}

// SampleFunc is the signature of a memory sampler, injectable for tests
// SampleFunc 是内存采样器的函数签名，可注入用于测试
type SampleFunc func() (Usage, error)

// Sample reads the current process memory usage
// Sample 读取当前进程的内存使用情况
func Sample() (Usage, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	rss, err := readRSS(&ms)
	if err != nil {
		return Usage{}, err
	}

	return Usage{
		RSS:       rss,
		HeapTotal: ms.HeapSys,
		HeapUsed:  ms.HeapAlloc,
	}, nil
}
