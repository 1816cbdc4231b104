// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Outcome classifies how a task finished.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeHandlerError
	OutcomeHandlerPanic
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeHandlerError:
		return "handler_error"
	case OutcomeHandlerPanic:
		return "handler_panic"
	default:
		return "unknown"
	}
}

// Result is the typed per-task outcome. Worker loops never swallow failures
// blindly; each task produces a result that is logged with the failing
// subscription's identity.
type Result struct {
	SubID   string
	Kind    string
	Outcome Outcome
	Err     error
}

// Pool is a fixed-size set of workers draining one shared task queue. Worker
// count is configuration, not elastic.
type Pool struct {
	size   int
	tasks  <-chan Task
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewPool(size int, tasks <-chan Task, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{size: size, tasks: tasks, logger: logger}
}

// Start launches the workers. They stop when ctx is cancelled; an in-flight
// task is finished first.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func(worker int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case task := <-p.tasks:
					res := p.run(ctx, task)
					if res.Outcome != OutcomeOK {
						p.logger.Error("subscriber failed",
							"worker", worker,
							"subscription_id", res.SubID,
							"kind", res.Kind,
							"outcome", res.Outcome.String(),
							"error", res.Err,
						)
					}
				}
			}
		}(i)
	}
}

// Wait blocks until every worker has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// run executes one task. A panicking handler is converted into a typed
// result; one broken subscriber never stops the pool or other subscribers.
func (p *Pool) run(ctx context.Context, task Task) (res Result) {
	res = Result{SubID: string(task.SubID), Kind: task.Kind, Outcome: OutcomeOK}
	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomeHandlerPanic
			res.Err = fmt.Errorf("panic: %v", r)
		}
	}()
	if err := task.Handler(ctx, task.Event); err != nil {
		res.Outcome = OutcomeHandlerError
		res.Err = err
	}
	return res
}
