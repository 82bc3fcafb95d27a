package api

import (
	"fmt"
	"strings"

	"github.com/djlord-it/arc-companion/internal/store/sqlstore"
)

const (
	maxIDLength    = 128
	maxQueryLength = 100
)

func validateItemFilter(f sqlstore.ItemFilter) error {
	if len(f.Query) > maxQueryLength {
		return fmt.Errorf("q exceeds %d characters", maxQueryLength)
	}
	if f.Category != "" {
		if err := validateSlug(f.Category); err != nil {
			return fmt.Errorf("invalid category: %w", err)
		}
	}
	return nil
}

func validateQuestUpdate(req UpdateQuestRequest) error {
	if req.Completed == nil && req.Progress == nil {
		return fmt.Errorf("completed or progress is required")
	}
	if p := req.Progress; p != nil && (*p < sqlstore.MinProgress || *p > sqlstore.MaxProgress) {
		return fmt.Errorf("progress must be between %d and %d", sqlstore.MinProgress, sqlstore.MaxProgress)
	}
	return nil
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("id is required")
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("id exceeds %d characters", maxIDLength)
	}
	if strings.ContainsAny(id, "/\\ \t\n") {
		return fmt.Errorf("id contains invalid characters")
	}
	return nil
}

// validateSlug accepts lowercase letters, digits, '-' and '_'.
func validateSlug(s string) error {
	if len(s) > maxIDLength {
		return fmt.Errorf("exceeds %d characters", maxIDLength)
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("unexpected character %q", r)
		}
	}
	return nil
}
