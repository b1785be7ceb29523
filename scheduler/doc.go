// Package scheduler periodically fetches every cloned repository of the catalog.
//
// A Loop waits a warm-up delay and then runs a Cycle every interval for as
// long as its context is not cancelled. Settings are read again before every
// cycle so the enabled flag and the interval can change without a restart.
//
// A Cycle takes a snapshot of all repositories with clone status `cloned`
// and fetches them one by one in snapshot order. A failed fetch is logged and
// the cycle moves on to the next repository. The catalog is committed after
// every repository, if that commit fails the remaining repositories are
// skipped until the next cycle.
//
// Example:
//
//	store, err := catalog.NewSQLiteStore("/var/lib/git-autofetch/catalog.db")
//	if err != nil {
//		panic(err)
//	}
//	f := fetcher.New(fetcher.Config{}, nil, logger)
//	cycle := scheduler.NewCycle(store, f, logger)
//	loop := scheduler.NewLoop(time.Minute, cycle, settingsFn, logger)
//	go loop.Run(ctx)
//	<-loop.Done()
package scheduler
