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

package supervisor

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// **Property: each retiring worker is disconnected once, never killed,
// and replaced exactly once — regardless of duplicate breach reports**
// 每个退役 worker 被断开一次、绝不被杀死、恰好被替换一次 —— 无论越限上报重复多少次
func TestProperty_GracefulRetirementIsExactlyOnce(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		workerCount := rapid.IntRange(1, 8).Draw(t, "workers")
		duplicates := rapid.IntRange(0, 4).Draw(t, "duplicates")

		fab := newFakeFabric()
		sup := New(fab, supervision(time.Hour), zap.NewNop())
		sup.Start()

		fleet := make([]*fakeWorker, 0, workerCount)
		for i := 0; i < workerCount; i++ {
			w, err := fab.Fork()
			if err != nil {
				t.Fatalf("fork: %v", err)
			}
			fleet = append(fleet, w.(*fakeWorker))
		}

		for _, w := range fleet {
			for i := 0; i < 1+duplicates; i++ {
				fab.emitMessage(w, breachMsg(w))
			}
			fab.emitDisconnect(w)
			fab.emitExit(w)
		}

		for _, w := range fleet {
			if got := w.disconnectCount(); got != 1 {
				t.Errorf("worker %s disconnected %d times, want 1", w.id, got)
			}
			if got := w.killCount(); got != 0 {
				t.Errorf("worker %s killed %d times, want 0", w.id, got)
			}
		}

		counters := sup.Counters()
		if counters.WorkerExceededMemory != uint64(workerCount) {
			t.Errorf("exceeded counter %d, want %d", counters.WorkerExceededMemory, workerCount)
		}
		if counters.WorkersRetired != uint64(workerCount) {
			t.Errorf("retired counter %d, want %d", counters.WorkersRetired, workerCount)
		}
		if counters.WorkerDisconnectFailed != 0 {
			t.Errorf("disconnect-failed counter %d, want 0", counters.WorkerDisconnectFailed)
		}

		// Initial fleet plus exactly one replacement per retirement
		// 初始 fleet 加上每次退役恰好一个替代者
		if got := fab.forkCount(); got != 2*workerCount {
			t.Errorf("%d forks, want %d", got, 2*workerCount)
		}
	})
}
