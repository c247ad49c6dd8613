package usecase

import (
	"context"
	"errors"
	"sync"

	"github.com/sglre6355/notion-notify/internal/domain"
)

type fetchResult struct {
	items domain.ResultSet
	err   error
}

// scriptedSource replays results in order and repeats the last one forever.
type scriptedSource struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
}

func (s *scriptedSource) Fetch(ctx context.Context) (domain.ResultSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	s.calls++

	r := s.results[idx]
	return r.items, r.err
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingNotifier struct {
	mu        sync.Mutex
	delivered []domain.Item
	failOn    map[string]error
}

func (n *recordingNotifier) Notify(_ context.Context, item domain.Item) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err, ok := n.failOn[item.ID]; ok {
		return err
	}
	n.delivered = append(n.delivered, item)
	return nil
}

func (n *recordingNotifier) Delivered() []domain.Item {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Item(nil), n.delivered...)
}

var errBoom = errors.New("boom")
