package archive

import (
	"context"
	"sort"
	"sync"
)

// memory keeps games in process when no database is configured.
type memory struct {
	mu    sync.RWMutex
	games map[string]*Game
}

func NewMemoryArchive() Archive {
	return &memory{games: make(map[string]*Game)}
}

// SaveGame rejects a second save of the same id.
func (m *memory) SaveGame(_ context.Context, g *Game) error {
	if g == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.games[g.ID]; exists {
		return ErrDuplicateGame
	}
	cp := *g
	cp.Moves = append([]string(nil), g.Moves...)
	m.games[g.ID] = &cp
	return nil
}

func (m *memory) RecentGames(_ context.Context, limit int) ([]*Game, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.RLock()
	out := make([]*Game, 0, len(m.games))
	for _, g := range m.games {
		cp := *g
		out = append(out, &cp)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EndedAt.After(out[j].EndedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memory) Close() error { return nil }
