package types

import (
	"time"
)

// MatchProposal is a candidate match produced by a match function. Every
// ticket it references is reserved under the proposal's match id until the
// director assigns or releases it.
type MatchProposal struct {
	MatchID     string     `json:"match_id"`
	ProfileName string     `json:"profile_name"`
	CreatedAt   time.Time  `json:"created_at"`
	Extensions  Extensions `json:"extensions,omitempty"`

	// TicketIDs lists every reserved ticket, pool groups concatenated in
	// profile pool order. No id appears twice.
	TicketIDs []string `json:"ticket_ids"`

	// Teams maps each pool name to the ticket ids filled from it.
	Teams map[string][]string `json:"teams"`

	// Score rates match quality. Base 100, plus up to 50 for average wait
	// time. Higher scores are allocated first.
	Score float64 `json:"score"`
}

// TicketCount returns the number of tickets the proposal reserves.
func (p *MatchProposal) TicketCount() int {
	return len(p.TicketIDs)
}

// Assignment is the connection handed back to a matched ticket. An empty
// connection means no assignment yet. Once written it never changes.
type Assignment struct {
	Connection string     `json:"connection"`
	Extensions Extensions `json:"extensions,omitempty"`
}
