/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package ondemand_test

import (
	"context"
	"fmt"
	"time"

	"github.com/mecondev/oncutf-sub002/boundedcache"
	"github.com/mecondev/oncutf-sub002/config"
	"github.com/mecondev/oncutf-sub002/log"
	"github.com/mecondev/oncutf-sub002/ondemand"
)

func Example() {
	cache, err := boundedcache.New[string, string](1000, nil)
	if err != nil {
		fmt.Println(err)
		return
	}

	loader := ondemand.LoaderFunc[string, string](func(ctx context.Context, key string) (string, error) {
		return "thumbnail of " + key, nil
	})

	cfg := ondemand.NewDefaultConfig()
	cfg.PollInterval = config.TimeDuration(time.Millisecond)
	sched, err := ondemand.New[string, string](cache, loader, cfg, log.NewDisabledLogger())
	if err != nil {
		fmt.Println(err)
		return
	}
	defer func() { _ = sched.Stop(true) }()

	// An uncached key is loaded asynchronously, the outcome arrives as an event.
	if _, ok := sched.Request("photo.jpg", 10, ondemand.SourceViewport); !ok {
		event := <-sched.Events()
		fmt.Println(event.Value, event.Err)
	}

	// The second request is a synchronous cache hit.
	value, ok := sched.Request("photo.jpg", 10, ondemand.SourceViewport)
	fmt.Println(value, ok)

	// Output:
	// thumbnail of photo.jpg <nil>
	// thumbnail of photo.jpg true
}
