package domain

import (
	"regexp"
	"strings"
	"time"
)

const DefaultTeamColor = "#3B82F6"

var colorRe = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

type Team struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Color       string    `json:"color"`
	OwnerUserID string    `json:"owner_user_id"`
	MemberIDs   []string  `json:"member_ids"`
	CreatedAt   time.Time `json:"created_at"`
}

// Normalize trims the name, applies the default color and validates both.
func (t *Team) Normalize() error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return NewValidationError("name", "is required")
	}
	if t.Color == "" {
		t.Color = DefaultTeamColor
	}
	if !colorRe.MatchString(t.Color) {
		return NewValidationError("color", "must be #RRGGBB")
	}
	return nil
}

func (t *Team) HasMember(agentID string) bool {
	for _, id := range t.MemberIDs {
		if id == agentID {
			return true
		}
	}
	return false
}
