// Package ids generates the prefixed, K-sortable identifiers used for
// deliveries, events and destinations.
package ids

import (
	"fmt"
	"strings"

	"go.jetify.com/typeid/v2"
)

const (
	PrefixDelivery    = "dlv"
	PrefixEvent       = "evt"
	PrefixDestination = "dst"
)

// New generates a new identifier in the form "prefix_suffix".
// It panics on an invalid prefix, which is a programming error.
func New(prefix string) string {
	tid, err := typeid.Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("ids: invalid prefix %q: %v", prefix, err))
	}
	return tid.String()
}

// NewDelivery returns a new delivery identifier
func NewDelivery() string { return New(PrefixDelivery) }

// NewEvent returns a new event identifier
func NewEvent() string { return New(PrefixEvent) }

// NewDestination returns a new destination identifier
func NewDestination() string { return New(PrefixDestination) }

// HasPrefix reports whether id carries the given type prefix.
func HasPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, prefix+"_") && len(id) > len(prefix)+1
}
