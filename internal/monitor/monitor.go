// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

// Package monitor polls the Ollama runtime and caches whether it is up.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/WhiteHades/mereader/internal/events"
	"github.com/WhiteHades/mereader/internal/metrics"
)

// Pinger checks the LLM runtime.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Status is the last observed state of the LLM runtime.
type Status struct {
	Available bool      `json:"available"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Service polls a Pinger on an interval.
type Service struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	events   *events.Hub
	metrics  *metrics.Metrics
	log      *zap.Logger

	mu       sync.RWMutex
	status   Status
	checked  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New returns a monitor. A zero interval polls every 30 seconds.
func New(p Pinger, interval time.Duration, hub *events.Hub, m *metrics.Metrics, log *zap.Logger) *Service {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		pinger:   p,
		interval: interval,
		timeout:  5 * time.Second,
		events:   hub,
		metrics:  m,
		log:      log.Named("monitor"),
	}
}

// Start checks once and then keeps polling until Stop.
func (s *Service) Start() {
	s.stopChan = make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.stopChan)
}

// Stop ends polling.
func (s *Service) Stop() {
	if s.stopChan != nil {
		close(s.stopChan)
		s.stopChan = nil
		s.wg.Wait()
	}
}

func (s *Service) loop(stop chan struct{}) {
	defer s.wg.Done()
	s.Check(context.Background())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Check(context.Background())
		case <-stop:
			return
		}
	}
}

// Check pings now and records the result. An "ollama_status" event is
// published when availability changes.
func (s *Service) Check(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.pinger.Ping(ctx)

	st := Status{Available: err == nil, CheckedAt: time.Now()}
	if err != nil {
		st.Error = err.Error()
	}

	s.mu.Lock()
	changed := !s.checked || s.status.Available != st.Available
	s.status, s.checked = st, true
	s.mu.Unlock()

	s.metrics.SetOllamaUp(st.Available)
	if changed {
		if st.Available {
			s.log.Info("ollama is available")
		} else {
			s.log.Warn("ollama is unavailable", zap.String("error", st.Error))
		}
		if s.events != nil {
			s.events.Emit(events.OllamaStatus, "", map[string]any{"available": st.Available})
		}
	}
	return st
}

// Status returns the cached state without pinging.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Available pings the runtime. Queries call this so an outage is noticed
// before the request reaches the LLM.
func (s *Service) Available(ctx context.Context) bool {
	return s.Check(ctx).Available
}
