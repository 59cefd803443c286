/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubUnit struct {
	mu       sync.Mutex
	startErr error
	stopErr  error
	started  bool
	stopped  bool
}

func (u *stubUnit) Start(fatalError chan<- error) {
	u.mu.Lock()
	u.started = true
	u.mu.Unlock()
	if u.startErr != nil {
		fatalError <- u.startErr
	}
}

func (u *stubUnit) Stop(gracefully bool) error {
	u.mu.Lock()
	u.stopped = true
	u.mu.Unlock()
	return u.stopErr
}

func (u *stubUnit) wasStopped() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stopped
}

func TestCompositeUnitStartStop(t *testing.T) {
	a := &stubUnit{}
	b := &stubUnit{}
	cu := NewCompositeUnit(a, b)

	fatalError := make(chan error, 1)
	cu.Start(fatalError)
	require.Empty(t, fatalError)

	require.NoError(t, cu.Stop(true))
	require.True(t, a.wasStopped())
	require.True(t, b.wasStopped())
}

func TestCompositeUnitStartFailureStopsOthers(t *testing.T) {
	healthy := &stubUnit{}
	broken := &stubUnit{startErr: fmt.Errorf("unit is broken")}
	cu := NewCompositeUnit(healthy, broken)

	fatalError := make(chan error, 1)
	cu.Start(fatalError)

	err := <-fatalError
	var cuErr *CompositeUnitError
	require.ErrorAs(t, err, &cuErr)
	require.Contains(t, cuErr.Error(), "unit is broken")
	require.True(t, healthy.wasStopped())
}

func TestCompositeUnitStopCollectsErrors(t *testing.T) {
	a := &stubUnit{stopErr: fmt.Errorf("stop failure a")}
	b := &stubUnit{}
	c := &stubUnit{stopErr: fmt.Errorf("stop failure c")}
	cu := NewCompositeUnit(a, b, c)

	err := cu.Stop(false)
	var cuErr *CompositeUnitError
	require.ErrorAs(t, err, &cuErr)
	require.Len(t, cuErr.UnitErrors, 2)
	require.True(t, b.wasStopped())
}
