package pricefeed

import (
	"strings"
	"sync"
)

// Tick is one accepted price update
type Tick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	TsMs   int64   `json:"ts"`
}

// Board is the shared last-known-price map. Entries are replaced whole so
// readers never observe a partially written tick. One Board is created at
// startup and handed to every feed and chart session that needs it.
type Board struct {
	mu     sync.RWMutex
	prices map[string]Tick
}

func NewBoard() *Board {
	return &Board{prices: make(map[string]Tick)}
}

func (b *Board) Set(t Tick) {
	t.Symbol = strings.ToUpper(t.Symbol)
	b.mu.Lock()
	b.prices[t.Symbol] = t
	b.mu.Unlock()
}

func (b *Board) Get(symbol string) (Tick, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.prices[strings.ToUpper(symbol)]
	return t, ok
}

// Snapshot copies the current prices
func (b *Board) Snapshot() map[string]Tick {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]Tick, len(b.prices))
	for k, v := range b.prices {
		out[k] = v
	}
	return out
}
