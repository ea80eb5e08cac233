package domain

import (
	"context"
	"slices"
	"sync"

	"tradedesk/internal/interfaces"
	"tradedesk/internal/logger"
	"tradedesk/internal/state"
	"tradedesk/internal/types"
)

const SymbolsID = "symbols"

// Symbols holds the per-venue watchlist and keeps each venue's feed
// subscribed to it.
type Symbols struct {
	*state.Container

	subscribers map[string]interfaces.TickSubscriber

	mu      sync.Mutex
	applied map[string][]string
}

func NewSymbols(deps Deps, subscribers map[string]interfaces.TickSubscriber) *Symbols {
	s := &Symbols{
		Container: state.NewContainer(SymbolsID, map[string]any{
			"watchlist": map[string]any{},
		}, deps.State),
		subscribers: subscribers,
		applied:     make(map[string][]string),
	}
	s.OnChange(func(partial map[string]any) {
		if _, ok := partial["watchlist"]; ok {
			s.sync()
		}
	})
	return s
}

// Watchlist returns the instrument ids per venue.
func (s *Symbols) Watchlist() map[string][]string {
	out := map[string][]string{}
	if err := types.Decode(s.Get("watchlist"), &out); err != nil {
		logger.Warn(context.Background(), "Unreadable watchlist", "error", err)
	}
	return out
}

func (s *Symbols) Add(venue string, ids ...string) {
	wl := s.Watchlist()
	for _, id := range ids {
		if !slices.Contains(wl[venue], id) {
			wl[venue] = append(wl[venue], id)
		}
	}
	s.SetState(map[string]any{"watchlist": wl, state.PersistFlag: true}, false)
}

func (s *Symbols) Remove(venue string, ids ...string) {
	wl := s.Watchlist()
	wl[venue] = slices.DeleteFunc(wl[venue], func(id string) bool {
		return slices.Contains(ids, id)
	})
	s.SetState(map[string]any{"watchlist": wl, state.PersistFlag: true}, false)
}

// sync subscribes ids added since the last call and unsubscribes the ones
// removed.
func (s *Symbols) sync() {
	wl := s.Watchlist()

	s.mu.Lock()
	defer s.mu.Unlock()
	for venue, sub := range s.subscribers {
		want := wl[venue]
		have := s.applied[venue]

		var added, removed []string
		for _, id := range want {
			if !slices.Contains(have, id) {
				added = append(added, id)
			}
		}
		for _, id := range have {
			if !slices.Contains(want, id) {
				removed = append(removed, id)
			}
		}
		if len(added) > 0 {
			sub.SubscribeTicks(added)
		}
		if len(removed) > 0 {
			sub.UnsubscribeTicks(removed)
		}
		s.applied[venue] = slices.Clone(want)
	}
}

func (s *Symbols) StartingFunctionsAtInitialize(ctx context.Context) error {
	s.sync()
	return nil
}
