package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/shihaohou/vllm-model-manager/logger"
)

// FetchFunc reads one remote resource.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// PollState is what a poller exposes after each applied response.
// Data survives failed refreshes: Err is set and the last good Data stays in place.
type PollState[T any] struct {
	Data        T
	HasData     bool
	IsLoading   bool
	Err         error
	Responses   int
	LastSuccess time.Time
	LastAttempt time.Time
}

// NeverConnected reports a failure before any successful response.
func (s PollState[T]) NeverConnected() bool {
	return s.Err != nil && !s.HasData
}

// ResourcePoller polls one resource on a fixed cadence. Every request gets a generation number;
// a response is applied only if it is newer than the last applied one, so a slow request can
// never overwrite the result of a request issued after it.
type ResourcePoller[T any] struct {
	name     string
	interval time.Duration
	fetch    FetchFunc[T]

	rwlock   sync.RWMutex
	state    PollState[T]
	issued   uint64
	applied  uint64
	handlers []func(PollState[T])

	// taken before rwlock; serializes apply+notify so handlers see states in application order
	notifyLock sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewResourcePoller[T any](name string, interval time.Duration, fetch FetchFunc[T]) *ResourcePoller[T] {
	return &ResourcePoller[T]{
		name:     name,
		interval: interval,
		fetch:    fetch,
		state:    PollState[T]{IsLoading: true},
	}
}

func (p *ResourcePoller[T]) Name() string {
	return p.name
}

func (p *ResourcePoller[T]) Interval() time.Duration {
	return p.interval
}

// OnUpdate registers a handler called after every applied response.
func (p *ResourcePoller[T]) OnUpdate(handler func(state PollState[T])) {
	p.rwlock.Lock()
	defer p.rwlock.Unlock()
	p.handlers = append(p.handlers, handler)
}

func (p *ResourcePoller[T]) State() PollState[T] {
	p.rwlock.RLock()
	defer p.rwlock.RUnlock()
	return p.state
}

// Start issues a first request immediately and then one per interval until Stop is called or
// ctx is done. Requests are not serialized: a tick fires even if the previous one is in flight.
func (p *ResourcePoller[T]) Start(ctx context.Context) {
	p.rwlock.Lock()
	if p.cancel != nil {
		p.rwlock.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.rwlock.Unlock()

	logger.InfoLogger().Printf("Polling %s every %v", p.name, p.interval)
	p.wg.Add(1)
	go p.schedule(ctx)
}

// Stop cancels the in-flight requests and waits for the scheduler to exit.
func (p *ResourcePoller[T]) Stop() {
	p.rwlock.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.rwlock.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
}

func (p *ResourcePoller[T]) schedule(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.spawnTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.spawnTick(ctx)
		}
	}
}

func (p *ResourcePoller[T]) spawnTick(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.Tick(ctx)
	}()
}

// Tick performs one request and applies its outcome. It returns false when the response was
// discarded, either because a newer response was already applied or because ctx was cancelled.
func (p *ResourcePoller[T]) Tick(ctx context.Context) bool {
	p.rwlock.Lock()
	p.issued++
	generation := p.issued
	p.rwlock.Unlock()

	data, err := p.fetch(ctx)
	if ctx.Err() != nil {
		return false
	}

	p.notifyLock.Lock()
	defer p.notifyLock.Unlock()

	p.rwlock.Lock()
	if generation <= p.applied {
		p.rwlock.Unlock()
		return false
	}
	p.applied = generation

	now := time.Now()
	hadError := p.state.Err != nil
	p.state.IsLoading = false
	p.state.Responses++
	p.state.LastAttempt = now
	if err != nil {
		p.state.Err = err
	} else {
		p.state.Data = data
		p.state.HasData = true
		p.state.Err = nil
		p.state.LastSuccess = now
	}
	state := p.state
	handlers := make([]func(PollState[T]), len(p.handlers))
	copy(handlers, p.handlers)
	p.rwlock.Unlock()

	if err != nil && !hadError {
		logger.ErrorLogger().Printf("Polling %s failed: %v", p.name, err)
	} else if err == nil && hadError {
		logger.InfoLogger().Printf("Polling %s recovered", p.name)
	}

	for _, handler := range handlers {
		handler(state)
	}
	return true
}
