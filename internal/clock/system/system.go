// Package system provides the wall clock used outside tests.
package system

import (
	"time"

	"github.com/JakeFAU/market-update/internal/market"
)

// Clock implements market.Clock with time.Now in UTC.
type Clock struct{}

var _ market.Clock = Clock{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time, truncated to whole seconds since every stored
// timestamp is second-precision RFC 3339.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
