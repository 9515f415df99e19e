package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/osvaldoandrade/fpilot/pkg/domain"
	"github.com/osvaldoandrade/fpilot/pkg/persistence"
)

// Plugin implements PluginPersistence for in-memory storage
// This is primarily for testing and local development
type Plugin struct {
	mu         sync.RWMutex
	strategies map[string]*domain.Strategy
	profiles   map[string]domain.RiskSettings
	runs       map[string]*domain.RunRecord
	retention  time.Duration
	now        func() time.Time
}

// NewPlugin creates a new in-memory persistence plugin
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	return &Plugin{
		strategies: make(map[string]*domain.Strategy),
		profiles:   make(map[string]domain.RiskSettings),
		runs:       make(map[string]*domain.RunRecord),
		retention:  config.RunRetention,
		now:        time.Now,
	}, nil
}

// StrategyStorage returns the strategy storage implementation
func (p *Plugin) StrategyStorage() persistence.StrategyStorage {
	return &strategyStorage{plugin: p}
}

// ProfileStorage returns the profile storage implementation
func (p *Plugin) ProfileStorage() persistence.ProfileStorage {
	return &profileStorage{plugin: p}
}

// RunStorage returns the run storage implementation
func (p *Plugin) RunStorage() persistence.RunStorage {
	return &runStorage{plugin: p}
}

// Health always returns nil for in-memory storage
func (p *Plugin) Health(ctx context.Context) error {
	return nil
}

// Close is a no-op for in-memory storage
func (p *Plugin) Close() error {
	return nil
}

func init() {
	persistence.RegisterProvider("memory", NewPlugin)
}

// strategyStorage implements persistence.StrategyStorage for in-memory storage
type strategyStorage struct {
	plugin *Plugin
}

func (s *strategyStorage) Create(ctx context.Context, st *domain.Strategy) error {
	s.plugin.mu.Lock()
	defer s.plugin.mu.Unlock()

	if _, exists := s.plugin.strategies[st.ID]; exists {
		return persistence.ErrAlreadyExists
	}
	s.plugin.strategies[st.ID] = cloneStrategy(st)
	return nil
}

func (s *strategyStorage) Update(ctx context.Context, st *domain.Strategy) error {
	s.plugin.mu.Lock()
	defer s.plugin.mu.Unlock()

	cur, exists := s.plugin.strategies[st.ID]
	if !exists || cur.Owner != st.Owner {
		return persistence.ErrNotFound
	}
	s.plugin.strategies[st.ID] = cloneStrategy(st)
	return nil
}

func (s *strategyStorage) Get(ctx context.Context, owner, id string) (*domain.Strategy, error) {
	s.plugin.mu.RLock()
	defer s.plugin.mu.RUnlock()

	st, exists := s.plugin.strategies[id]
	if !exists || st.Owner != owner {
		return nil, persistence.ErrNotFound
	}
	return cloneStrategy(st), nil
}

func (s *strategyStorage) List(ctx context.Context, owner string) ([]*domain.Strategy, error) {
	s.plugin.mu.RLock()
	defer s.plugin.mu.RUnlock()

	out := make([]*domain.Strategy, 0)
	for _, st := range s.plugin.strategies {
		if st.Owner == owner {
			out = append(out, cloneStrategy(st))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *strategyStorage) Delete(ctx context.Context, owner, id string) error {
	s.plugin.mu.Lock()
	defer s.plugin.mu.Unlock()

	st, exists := s.plugin.strategies[id]
	if !exists || st.Owner != owner {
		return persistence.ErrNotFound
	}
	delete(s.plugin.strategies, id)
	return nil
}

// profileStorage implements persistence.ProfileStorage for in-memory storage
type profileStorage struct {
	plugin *Plugin
}

func (s *profileStorage) GetRiskSettings(ctx context.Context, owner string) (*domain.RiskSettings, error) {
	s.plugin.mu.RLock()
	defer s.plugin.mu.RUnlock()

	settings, exists := s.plugin.profiles[owner]
	if !exists {
		return nil, persistence.ErrNotFound
	}
	return &settings, nil
}

func (s *profileStorage) SaveRiskSettings(ctx context.Context, owner string, settings domain.RiskSettings) error {
	s.plugin.mu.Lock()
	defer s.plugin.mu.Unlock()

	s.plugin.profiles[owner] = settings
	return nil
}

// runStorage implements persistence.RunStorage for in-memory storage
type runStorage struct {
	plugin *Plugin
}

func (s *runStorage) SaveRun(ctx context.Context, rec *domain.RunRecord) error {
	s.plugin.mu.Lock()
	defer s.plugin.mu.Unlock()

	if cur, exists := s.plugin.runs[rec.ID]; exists && cur.Owner != rec.Owner {
		return persistence.ErrAlreadyExists
	}
	s.plugin.runs[rec.ID] = cloneRun(rec)
	s.pruneLocked()
	return nil
}

func (s *runStorage) GetRun(ctx context.Context, owner, id string) (*domain.RunRecord, error) {
	s.plugin.mu.RLock()
	defer s.plugin.mu.RUnlock()

	rec, exists := s.plugin.runs[id]
	if !exists || rec.Owner != owner || s.expired(rec) {
		return nil, persistence.ErrNotFound
	}
	return cloneRun(rec), nil
}

func (s *runStorage) ListRuns(ctx context.Context, owner string, limit int) ([]*domain.RunRecord, error) {
	s.plugin.mu.RLock()
	defer s.plugin.mu.RUnlock()

	out := make([]*domain.RunRecord, 0)
	for _, rec := range s.plugin.runs {
		if rec.Owner == owner && !s.expired(rec) {
			out = append(out, cloneRun(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *runStorage) expired(rec *domain.RunRecord) bool {
	return s.plugin.retention > 0 && rec.CreatedAt.Before(s.plugin.now().Add(-s.plugin.retention))
}

func (s *runStorage) pruneLocked() {
	if s.plugin.retention <= 0 {
		return
	}
	for id, rec := range s.plugin.runs {
		if s.expired(rec) {
			delete(s.plugin.runs, id)
		}
	}
}

func cloneStrategy(st *domain.Strategy) *domain.Strategy {
	c := *st
	if st.Parameters != nil {
		c.Parameters = make(map[string]float64, len(st.Parameters))
		for k, v := range st.Parameters {
			c.Parameters[k] = v
		}
	}
	if st.Ranges != nil {
		c.Ranges = make(map[string]domain.ParameterRange, len(st.Ranges))
		for k, v := range st.Ranges {
			c.Ranges[k] = v
		}
	}
	return &c
}

func cloneRun(rec *domain.RunRecord) *domain.RunRecord {
	c := *rec
	c.Input = cloneMap(rec.Input)
	c.Output = cloneMap(rec.Output)
	if rec.Usage != nil {
		u := *rec.Usage
		c.Usage = &u
	}
	if rec.CompletedAt != nil {
		t := *rec.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
