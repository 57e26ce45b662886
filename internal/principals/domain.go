package principals

import "time"

// Principal is an identified platform operator. Authentication happens
// upstream; the platform only needs the resolved identity.
type Principal struct {
	ID        int64
	Email     string
	Name      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
