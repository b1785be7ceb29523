package scheduler

import "fmt"

// PersistenceError is returned by Cycle.Run when the catalog commit after
// a repository failed. Remaining repositories of the cycle are not attempted.
type PersistenceError struct {
	Repository string
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("unable to persist state of repo:%s err:%v", e.Repository, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
