/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package ondemand

import (
	"time"
)

// Source tags the origin of a load request.
type Source string

// Well-known request sources.
const (
	SourceViewport    Source = "viewport"
	SourcePrefetch    Source = "prefetch"
	SourceUserRequest Source = "user_request"
)

// Priority bounds and well-known values. Lower value means more urgent.
const (
	PriorityHighest  = 0
	PriorityPrefetch = 70
	PriorityLowest   = 100
)

// LoadRequest is a pending request for loading a single resource.
type LoadRequest[K comparable] struct {
	// ID is a unique request identifier used for log and event correlation.
	ID string

	// Key identifies the resource to load.
	Key K

	// Priority is the urgency of the request; lower value means more urgent.
	Priority int

	// RequestedAt is the time the request was first enqueued.
	RequestedAt time.Time

	// Source tags the origin of the request.
	Source Source
}
