package stream

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("stream: broker closed")

// LocalBroker is an in-process Broker for single-instance deployments and
// tests. Slow subscribers drop messages instead of blocking publishers.
type LocalBroker struct {
	mu     sync.Mutex
	subs   map[string]map[*localSub]struct{}
	closed bool
}

type localSub struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func (s *localSub) close() {
	s.once.Do(func() {
		close(s.ch)
		close(s.done)
	})
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: make(map[string]map[*localSub]struct{})}
}

func (b *LocalBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for s := range b.subs[channel] {
		msg := append([]byte(nil), payload...)
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

func (b *LocalBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, nil, ErrClosed
	}
	s := &localSub{ch: make(chan []byte, 64), done: make(chan struct{})}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*localSub]struct{})
	}
	b.subs[channel][s] = struct{}{}
	b.mu.Unlock()

	cleanup := func() {
		b.mu.Lock()
		delete(b.subs[channel], s)
		if len(b.subs[channel]) == 0 {
			delete(b.subs, channel)
		}
		s.close()
		b.mu.Unlock()
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-s.done:
		}
	}()
	return s.ch, cleanup, nil
}

func (b *LocalBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, set := range b.subs {
		for s := range set {
			s.close()
		}
	}
	b.subs = map[string]map[*localSub]struct{}{}
	return nil
}
