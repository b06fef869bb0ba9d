package domain

import "time"

// WatchRule is an operator-defined CEL condition over transaction features.
// A matching rule appends Label to the result's risk factors; it never
// changes scores, weights, verdicts or actions.
type WatchRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// CEL expression, must evaluate to bool
	Expression string `json:"expression"`

	// Risk-factor label added when the expression is true
	Label string `json:"label"`

	// Whether rule is active
	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
