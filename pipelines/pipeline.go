// Copyright (c) 2025 Michael D Henderson. All rights reserved.

// Package pipelines schedules dataset runs over a bounded worker pool.
package pipelines

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/mdhender/datascan/model"
	"github.com/mdhender/datascan/pipelines/stages"
)

// Store defines the store operations needed by the Pipeline, on top of what
// the stage runner needs.
type Store interface {
	stages.Store
	GetDataset(ctx context.Context, id string) (*model.Dataset, error)
	ListUnfinished(ctx context.Context) ([]*model.Dataset, error)
}

// Pipeline owns the job queue and the worker pool. One dataset is processed
// by at most one worker at a time; Submit while a run is active is rejected.
type Pipeline struct {
	store   Store
	runner  *stages.Runner
	jobs    chan string
	workers int

	mu      sync.Mutex
	active  map[string]context.CancelFunc
	queued  map[string]bool
	started bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Pipeline with the given worker count and queue capacity.
func New(store Store, runner *stages.Runner, workers, queueSize int) *Pipeline {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Pipeline{
		store:   store,
		runner:  runner,
		jobs:    make(chan string, queueSize),
		workers: workers,
		active:  make(map[string]context.CancelFunc),
		queued:  make(map[string]bool),
	}
}

// Start launches the worker pool. It returns immediately; workers run until
// Stop is called or ctx is canceled.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop cancels all running work and waits for the workers to exit.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

// Submit enqueues a dataset for processing. Returns an error when the queue
// is full or the dataset is already queued or running. At most one run per
// dataset can be queued or active at a time; stage and summary writes stay
// single-writer.
func (p *Pipeline) Submit(datasetID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, running := p.active[datasetID]; running {
		return fmt.Errorf("dataset %s is already running", datasetID)
	}
	if p.queued[datasetID] {
		return fmt.Errorf("dataset %s is already queued", datasetID)
	}

	select {
	case p.jobs <- datasetID:
		p.queued[datasetID] = true
		return nil
	default:
		return fmt.Errorf("pipeline queue is full")
	}
}

// Cancel stops an in-flight run. The dataset is left parked on whatever
// stage it was executing; a later Submit resumes it from prepare.
func (p *Pipeline) Cancel(datasetID string) bool {
	p.mu.Lock()
	cancel, ok := p.active[datasetID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Recover re-enqueues every dataset stranded on a non-terminal stage, e.g.
// after a crash or an unclean shutdown. Unlike Submit, enqueueing blocks
// until there is queue room, so a backlog larger than the queue drains
// through the workers instead of failing startup. Call after Start.
func (p *Pipeline) Recover(ctx context.Context) error {
	stuck, err := p.store.ListUnfinished(ctx)
	if err != nil {
		return fmt.Errorf("list unfinished: %w", err)
	}
	for _, ds := range stuck {
		p.mu.Lock()
		_, running := p.active[ds.ID]
		dup := running || p.queued[ds.ID]
		if !dup {
			p.queued[ds.ID] = true
		}
		p.mu.Unlock()
		if dup {
			continue
		}

		select {
		case p.jobs <- ds.ID:
			log.Printf("pipeline: recovered dataset %s from stage %s", ds.ID, ds.Stage)
		case <-ctx.Done():
			p.mu.Lock()
			delete(p.queued, ds.ID)
			p.mu.Unlock()
			return ctx.Err()
		}
	}
	return nil
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case datasetID := <-p.jobs:
			p.runOne(ctx, datasetID)
		}
	}
}

func (p *Pipeline) runOne(ctx context.Context, datasetID string) {
	// Move the dataset from queued to active under one lock so a concurrent
	// Submit can never slip a second run in between.
	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	delete(p.queued, datasetID)
	if _, running := p.active[datasetID]; running {
		p.mu.Unlock()
		cancel()
		return
	}
	p.active[datasetID] = cancel
	p.mu.Unlock()
	defer func() {
		cancel()
		p.mu.Lock()
		delete(p.active, datasetID)
		p.mu.Unlock()
	}()

	ds, err := p.store.GetDataset(ctx, datasetID)
	if err != nil {
		log.Printf("pipeline: load dataset %s: %v", datasetID, err)
		return
	}
	if ds == nil {
		log.Printf("pipeline: dataset %s not found", datasetID)
		return
	}

	if err := p.runner.Run(runCtx, ds); err != nil {
		if runCtx.Err() != nil {
			log.Printf("pipeline: dataset %s canceled at stage %s", datasetID, ds.Stage)
			return
		}
		// Run already persisted the failure; nothing left to do here.
		return
	}
	log.Printf("pipeline: dataset %s ready", datasetID)
}
