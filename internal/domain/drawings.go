package domain

import "tradedesk/internal/state"

const DrawingsID = "drawings"

// NewDrawings stores chart drawings as the client sends them.
func NewDrawings(deps Deps) *state.Container {
	return state.NewContainer(DrawingsID, map[string]any{
		"drawings": map[string]any{},
	}, deps.State)
}
