package event

import (
	"context"
	"sync"

	"github.com/minoskernel/minos/service/messaging"
	"github.com/minoskernel/minos/service/messaging/memory"
)

// Handler consumes one event. Handlers run on the bus goroutine, never on
// the kernel loop, so a slow handler delays other handlers but not
// scheduling.
type Handler func(*Event)

// Service fans kernel lifecycle events out to subscribed handlers through a
// buffered queue.
type Service struct {
	queue messaging.Queue[Event]

	mu       sync.RWMutex
	handlers []Handler

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a stopped bus; call Start before publishing.
func NewService() *Service {
	return &Service{
		queue: memory.NewQueue[Event](memory.DefaultConfig()),
	}
}

// Subscribe registers a handler for all subsequent events.
func (s *Service) Subscribe(handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// Publish enqueues an event. A full queue drops the event rather than stall
// the publisher; lifecycle events are advisory, not load-bearing.
func (s *Service) Publish(ctx context.Context, e *Event) {
	_ = s.queue.Publish(ctx, e)
}

// Start launches the dispatch goroutine.
func (s *Service) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		for {
			msg, err := s.queue.Consume(ctx)
			if err != nil {
				return
			}
			s.dispatch(msg.T())
			_ = msg.Ack()
		}
	}()
}

func (s *Service) dispatch(e *Event) {
	s.mu.RLock()
	handlers := make([]Handler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.RUnlock()
	for _, handler := range handlers {
		handler(e)
	}
}

// Shutdown stops dispatching and waits for the goroutine to exit.
func (s *Service) Shutdown() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}
