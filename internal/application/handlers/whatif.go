package handlers

import (
	"context"

	"github.com/ersonp/narra-core/internal/domain/entities"
	"github.com/ersonp/narra-core/internal/domain/services"
	"github.com/ersonp/narra-core/internal/infrastructure/logging"
)

// WhatIfHandler handles hypothetical knowledge changes.
type WhatIfHandler struct {
	service *services.WhatIfService
}

// NewWhatIfHandler creates a new what-if handler.
func NewWhatIfHandler(service *services.WhatIfService) *WhatIfHandler {
	return &WhatIfHandler{service: service}
}

// WhatIfRequest names the raw hypothetical: a character learning a fact.
type WhatIfRequest struct {
	Character string
	FactRef   string
	Fact      string
	Target    string
	Certainty string
}

// Handle simulates the change. Nothing is written.
func (h *WhatIfHandler) Handle(ctx context.Context, req WhatIfRequest) (*services.WhatIfReport, error) {
	character, err := ParseID("character", req.Character)
	if err != nil {
		return nil, err
	}
	target, err := ParseOptionalID("target", req.Target)
	if err != nil {
		return nil, err
	}

	logging.From(ctx).Debug("simulating what-if", "character", character, "fact_ref", req.FactRef, "target", target)
	return h.service.Simulate(ctx, services.WhatIfInput{
		CharacterID: character,
		FactRef:     req.FactRef,
		Fact:        req.Fact,
		TargetID:    target,
		Certainty:   entities.Certainty(req.Certainty),
	})
}
