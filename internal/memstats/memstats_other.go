//go:build !linux
// +build !linux

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

package memstats

import "runtime"

// readRSS approximates the resident set size with the total memory the Go
// runtime obtained from the OS. Platforms without /proc get a conservative
// upper bound rather than a missing value.
// readRSS 用 Go 运行时从操作系统获得的总内存近似常驻集大小。
// 没有 /proc 的平台得到的是保守上界而不是缺失值。
func readRSS(ms *runtime.MemStats) (uint64, error) {
	return ms.Sys, nil
}
