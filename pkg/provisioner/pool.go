/*
Copyright 2024 CommerceKube.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package provisioner drives stores from PROVISIONING or DELETING to a
// terminal state.  The database is the serialization point: a task that
// reads a record in an unexpected status exits without effect, so a
// duplicate submission is harmless.
package provisioner

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/commercekube/storeplane/pkg/helm"
	"github.com/commercekube/storeplane/pkg/probe"
	"github.com/commercekube/storeplane/pkg/store"
)

type taskKind int

const (
	// taskInstall drives a full provisioning pass, Helm install
	// included (guarded by a release existence check).
	taskInstall taskKind = iota

	// taskResume skips straight to the readiness poll loop.  Used by
	// recovery when the release already exists.
	taskResume

	// taskDelete uninstalls the release and removes the namespace.
	taskDelete
)

type task struct {
	kind taskKind
	id   string
}

// Pool is a bounded-concurrency executor over an unbounded FIFO backlog.
// Parallelism is across stores; within one store the Helm and probe calls
// of a task are strictly sequential.
type Pool struct {
	options *Options
	store   *store.Store
	helm    helm.Interface
	probe   probe.Interface

	mu      sync.Mutex
	wake    *sync.Cond
	backlog []task
	closed  bool
}

// New creates a worker pool.  Call Run to start it.
func New(options *Options, s *store.Store, h helm.Interface, p probe.Interface) *Pool {
	pool := &Pool{
		options: options,
		store:   s,
		helm:    h,
		probe:   p,
	}

	pool.wake = sync.NewCond(&pool.mu)

	return pool
}

// SubmitInstall enqueues a full provisioning task.
func (p *Pool) SubmitInstall(id string) {
	p.submit(task{kind: taskInstall, id: id})
}

// SubmitResume enqueues a readiness-only provisioning task.
func (p *Pool) SubmitResume(id string) {
	p.submit(task{kind: taskResume, id: id})
}

// SubmitDelete enqueues a deletion task.
func (p *Pool) SubmitDelete(id string) {
	p.submit(task{kind: taskDelete, id: id})
}

func (p *Pool) submit(t task) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		// Late submissions during shutdown are dropped, recovery
		// picks the store up on the next start.
		return
	}

	p.backlog = append(p.backlog, t)
	queueDepth.Set(float64(len(p.backlog)))
	p.wake.Signal()
}

// next blocks until a task is available or the pool is shut down.
func (p *Pool) next() (task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.backlog) == 0 && !p.closed {
		p.wake.Wait()
	}

	if p.closed {
		return task{}, false
	}

	t := p.backlog[0]
	p.backlog = p.backlog[1:]
	queueDepth.Set(float64(len(p.backlog)))

	return t, true
}

// Run executes tasks until the context is cancelled, then waits for the
// in-flight tasks to finish their current step.  Records in progress stay
// in their current status for recovery to resume.
func (p *Pool) Run(ctx context.Context) error {
	logger := log.FromContext(ctx)

	logger.Info("worker pool starting", "workers", p.options.Workers)

	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		p.closed = true
		p.wake.Broadcast()
	})
	defer stop()

	group := &errgroup.Group{}

	for i := 0; i < p.options.Workers; i++ {
		group.Go(func() error {
			p.work(ctx)

			return nil
		})
	}

	//nolint:errcheck
	group.Wait()

	logger.Info("worker pool stopped")

	return nil
}

func (p *Pool) work(ctx context.Context) {
	for {
		t, ok := p.next()
		if !ok {
			return
		}

		logger := log.FromContext(ctx).WithValues("store", t.id)
		taskCtx := log.IntoContext(ctx, logger)

		activeTasks.Inc()

		switch t.kind {
		case taskInstall:
			p.provision(taskCtx, t.id, false)
		case taskResume:
			p.provision(taskCtx, t.id, true)
		case taskDelete:
			p.delete(taskCtx, t.id)
		}

		activeTasks.Dec()
	}
}
