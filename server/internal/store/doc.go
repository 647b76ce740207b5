// Package store holds the single latest snapshot served by livefeed.
//
// Store has exactly one current value. Publish swaps it atomically; Read is
// lock-free and never blocks on the writer, so any number of session
// goroutines can poll it without serialising behind a mutex. Before the first
// Publish, Read returns types.Placeholder().
//
// Changed returns a channel that is closed on the next Publish. Watchers take
// the channel before reading, so a publish landing between the two calls is
// never missed.
//
// No history is kept: latest wins.
package store
