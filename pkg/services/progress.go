package services

import (
	"github.com/ekaya-inc/ekaya-onboard/pkg/models"
)

// CalculateProgress summarises a profile. It reads nothing but its
// arguments, so the same numbers come out after a restart.
func CalculateProgress(p *models.Profile, productsCount int) models.Progress {
	progress := models.Progress{
		FieldsCompleted: p.CompletedFieldCount(),
		TotalFields:     models.TotalFields(),
		ProductsCount:   productsCount,
		Phase:           models.PhaseCollectingProducts,
	}
	if f, missing := p.NextMissingField(); missing {
		progress.NextField = f.Key
		progress.Phase = models.PhaseCollectingFields
	}
	progress.CompanyInfoComplete = progress.FieldsCompleted == progress.TotalFields
	return progress
}

// DerivePhase recomputes the conversation state from stored data. No state
// pointer is persisted; this is the only source of truth for "what next".
func DerivePhase(status models.SessionStatus, turnCount int, p *models.Profile) models.ConversationPhase {
	switch {
	case status == models.SessionStatusCompleted:
		return models.PhaseCompleted
	case turnCount == 0:
		return models.PhaseAwaitingFirstTurn
	case p.AllFieldsSet():
		return models.PhaseCollectingProducts
	default:
		return models.PhaseCollectingFields
	}
}
