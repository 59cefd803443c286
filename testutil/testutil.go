/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package testutil provides helpers for tests: assertions on error channels
// and on Prometheus metrics.
package testutil

type tHelper interface {
	Helper()
}
