// Package audit publishes task-updated events to the audit queue from a
// bounded pool of workers.
package audit

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"checklist-api/domain"
)

// Sender delivers one event to the queue.
type Sender interface {
	EnqueueAudit(ctx context.Context, ev domain.TaskUpdatedEvent) error
}

// Options tunes the pool.
type Options struct {
	Workers        int
	Buffer         int
	EnqueueTimeout time.Duration
	HandoffTimeout time.Duration
}

// DefaultOptions returns the pool settings used when none are configured.
func DefaultOptions() Options {
	return Options{
		Workers:        4,
		Buffer:         256,
		EnqueueTimeout: 10 * time.Second,
		HandoffTimeout: 15 * time.Millisecond,
	}
}

// Publisher hands events to worker goroutines. When the buffer stays full
// past the handoff timeout the event is sent inline by the caller.
type Publisher struct {
	sender Sender
	opts   Options
	log    log.FieldLogger

	mu     sync.RWMutex
	jobs   chan domain.TaskUpdatedEvent
	closed bool
	wg     sync.WaitGroup
}

// NewPublisher starts the workers.
func NewPublisher(sender Sender, opts Options, logger log.FieldLogger) *Publisher {
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.Buffer < 0 {
		opts.Buffer = def.Buffer
	}
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = def.EnqueueTimeout
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	p := &Publisher{
		sender: sender,
		opts:   opts,
		log:    logger,
		jobs:   make(chan domain.TaskUpdatedEvent, opts.Buffer),
	}
	for i := 0; i < opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Infof("audit publisher started, workers: %d, buffer: %d, timeout: %v, handoff: %v", opts.Workers, opts.Buffer, opts.EnqueueTimeout, opts.HandoffTimeout)
	return p
}

// Publish queues ev for delivery. It never returns an error; failures are
// logged.
func (p *Publisher) Publish(ev domain.TaskUpdatedEvent) {
	if p.tryHandoff(ev) {
		return
	}
	p.log.WithField("task_id", ev.TaskID).Warn("audit buffer saturated; publishing inline")
	p.send(-1, ev)
}

// Close stops accepting events and waits for queued ones to be sent.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Publisher) worker(id int) {
	defer p.wg.Done()
	for ev := range p.jobs {
		p.send(id, ev)
	}
}

func (p *Publisher) send(worker int, ev domain.TaskUpdatedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.EnqueueTimeout)
	err := p.sender.EnqueueAudit(ctx, ev)
	cancel()
	if err != nil {
		p.log.WithFields(log.Fields{
			"event_id": ev.ID,
			"task_id":  ev.TaskID,
			"worker":   worker,
		}).Errorf("audit enqueue failed: %v", err)
	}
}

func (p *Publisher) tryHandoff(ev domain.TaskUpdatedEvent) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.jobs <- ev:
		return true
	default:
	}
	if p.opts.HandoffTimeout <= 0 {
		return false
	}
	timer := time.NewTimer(p.opts.HandoffTimeout)
	defer timer.Stop()
	select {
	case p.jobs <- ev:
		return true
	case <-timer.C:
		return false
	}
}
