package main

import (
	"context"
	"log"
	"slices"
)

// ResolveRoster determines the council line-up once at start-up.
// The server's published roster wins; configuration is the fallback.
func ResolveRoster(ctx context.Context, api Upstream, fallback Roster) Roster {
	roster, err := api.FetchRoster(ctx)
	if err != nil {
		log.Printf("Council roster not available from server, using configuration: %v", err)
		return fallback
	}
	if len(roster.CouncilModels) == 0 && roster.ChairmanModel == "" {
		return fallback
	}
	return roster
}

// IsChairman reports whether model is the roster's chairman
func (r Roster) IsChairman(model string) bool {
	return r.ChairmanModel != "" && r.ChairmanModel == model
}

// Position returns the seat of model in the council, or -1.
// Renderers use it to show stage 1 responses in seat order.
func (r Roster) Position(model string) int {
	return slices.Index(r.CouncilModels, model)
}
