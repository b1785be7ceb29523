// Package fetcher updates a single locally cloned repository from its remotes
// by running `git fetch --all --prune` in the repository's working directory.
//
// A fetch never merges or checks out anything, it only synchronises
// remote-tracking references. The caller decides what to do with the result,
// the fetcher itself doesn't write to the catalog.
//
// # Logging:
//
// package takes slog reference for logging and prints command lines and
// outputs at 'trace' level (slog.Level(-8)).
package fetcher
