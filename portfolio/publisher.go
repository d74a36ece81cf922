package portfolio

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bcgov/CRP-GSS-Project-Management/config"
	"github.com/bcgov/CRP-GSS-Project-Management/domain"
)

type changeSink interface {
	PublishChange(ctx context.Context, ev domain.ChangeEvent) error
}

// Publisher delivers change events to the change feed from a bounded pool of
// workers. When the pool is saturated past the handoff timeout the event is
// published inline by the caller.
type Publisher struct {
	sink    changeSink
	jobs    chan domain.ChangeEvent
	handoff time.Duration
	timeout time.Duration
	logger  *log.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewPublisher starts the worker pool.
func NewPublisher(sink changeSink, cfg config.Publish, logger *log.Logger) *Publisher {
	if logger == nil {
		panic("Logger is not initialized")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	p := &Publisher{
		sink:    sink,
		jobs:    make(chan domain.ChangeEvent, cfg.Buffer),
		handoff: cfg.HandoffTimeout,
		timeout: cfg.Timeout,
		logger:  logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logger.Infof("change publisher started, workers: %d, buffer: %d, timeout: %v, handoff: %v", workers, cfg.Buffer, cfg.Timeout, cfg.HandoffTimeout)
	return p
}

// Publish hands ev to the pool, falling back to an inline publish.
func (p *Publisher) Publish(ev domain.ChangeEvent) {
	if p.tryEnqueue(ev) {
		return
	}
	changesInline.Inc()
	p.deliver(-1, ev)
}

// Close stops accepting events and waits for queued events to drain or ctx
// to expire.
func (p *Publisher) Close(ctx context.Context) error {
	p.closeOnce.Do(func() { close(p.jobs) })
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) worker(id int) {
	defer p.wg.Done()
	for ev := range p.jobs {
		p.deliver(id, ev)
	}
}

func (p *Publisher) deliver(worker int, ev domain.ChangeEvent) {
	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.sink.PublishChange(ctx, ev); err != nil {
		changesPublished.WithLabelValues("error").Inc()
		p.logger.WithFields(log.Fields{
			"error":   err,
			"event":   ev.ID,
			"project": ev.ProjectID,
			"field":   ev.Field,
			"worker":  worker,
		}).Error("Change publish failed")
		return
	}
	changesPublished.WithLabelValues("ok").Inc()
}

func (p *Publisher) tryEnqueue(ev domain.ChangeEvent) bool {
	if ok, closed := trySendNonBlocking(p.jobs, ev); closed {
		return false
	} else if ok {
		return true
	}

	if p.handoff <= 0 {
		return false
	}

	timer := time.NewTimer(p.handoff)
	defer timer.Stop()

	ok, closed := sendWithTimer(p.jobs, ev, timer.C)
	if closed {
		return false
	}
	return ok
}

func trySendNonBlocking(ch chan domain.ChangeEvent, ev domain.ChangeEvent) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- ev:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan domain.ChangeEvent, ev domain.ChangeEvent, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- ev:
		return true, false
	case <-timer:
		return false, false
	}
}
