// Package persistence saves the gateway state that should outlive the
// process: the last connection target and the directory cache.
//
// The state is a small JSON file. A missing file is an empty state.
package persistence
