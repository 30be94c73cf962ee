package domain

import "time"

// Permit is the result of asking the search gate for the lease. When Granted
// is false, Reason says why (held, cooldown, timeout, closed).
type Permit struct {
	Granted   bool
	LeaseID   string
	ExpiresAt time.Time
	Reason    string
}
