package api

import (
	"time"

	"github.com/djlord-it/arc-companion/internal/domain"
)

type TimerResponse struct {
	Name        string   `json:"name"`
	Map         string   `json:"map"`
	Icon        string   `json:"icon,omitempty"`
	Description string   `json:"description,omitempty"`
	Days        []string `json:"days"`
	Times       []string `json:"times"`
	Countdown   string   `json:"countdown"`
	NextAt      *string  `json:"next_at"` // null when no upcoming occurrence
	RemainingMs int64    `json:"remaining_ms"`
}

type SnapshotResponse struct {
	SessionID  string          `json:"session_id,omitempty"`
	Seq        uint64          `json:"seq"`
	ComputedAt string          `json:"computed_at,omitempty"`
	State      string          `json:"state"`
	Message    string          `json:"message,omitempty"`
	Timers     []TimerResponse `json:"timers"`
}

type ListItemsResponse struct {
	Items []domain.Item `json:"items"`
}

type ListQuestsResponse struct {
	Quests []domain.Quest `json:"quests"`
}

// UpdateQuestRequest changes quest tracking state. Omitted fields are left
// as they are.
type UpdateQuestRequest struct {
	Completed *bool `json:"completed,omitempty"`
	Progress  *int  `json:"progress,omitempty"`
}

type ListEventsResponse struct {
	Events []domain.GameEvent `json:"events"`
}

type ListMapsResponse struct {
	Maps []domain.GameMap `json:"maps"`
}

type ListRecipesResponse struct {
	Recipes []domain.CraftingRecipe `json:"recipes"`
}

type ListTradersResponse struct {
	Traders []domain.Trader `json:"traders"`
}

type ListArcsResponse struct {
	Arcs []domain.Arc `json:"arcs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// NewSnapshotResponse converts a snapshot to its wire form.
func NewSnapshotResponse(s domain.Snapshot) SnapshotResponse {
	resp := SnapshotResponse{
		SessionID:  s.SessionID.String(),
		Seq:        s.Seq,
		ComputedAt: formatTime(s.ComputedAt),
		State:      string(s.State),
		Message:    s.Message,
		Timers:     make([]TimerResponse, len(s.Timers)),
	}
	for i, tc := range s.Timers {
		tr := TimerResponse{
			Name:        tc.Timer.Name,
			Map:         tc.Timer.Map,
			Icon:        tc.Timer.Icon,
			Description: tc.Timer.Description,
			Days:        tc.Timer.Days,
			Times:       tc.Timer.Times,
			Countdown:   tc.Countdown,
			RemainingMs: tc.Remaining.Milliseconds(),
		}
		if tc.Next != nil {
			next := formatTime(*tc.Next)
			tr.NextAt = &next
		}
		resp.Timers[i] = tr
	}
	return resp
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
