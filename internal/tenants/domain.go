package tenants

import (
	"errors"
	"time"
)

// Kind enumerates the tenant levels a role can be scoped to.
type Kind string

const (
	KindPartner  Kind = "partner"
	KindReseller Kind = "reseller"
	KindCustomer Kind = "customer"
)

// Valid reports whether the kind is one of the known tenant kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindPartner, KindReseller, KindCustomer:
		return true
	}
	return false
}

// Tenant is one scope instance: a partner, reseller or customer.
type Tenant struct {
	ID        string
	Kind      Kind
	Name      string
	CreatedAt time.Time
}

// ErrNotFound indicates the tenant does not exist.
var ErrNotFound = errors.New("tenants: not found")
