// Package refresher runs the single background producer that keeps the
// snapshot store current.
//
// Refresher moves between Stopped and Running. Start launches the loop:
// fetch from the Source, encode the value, publish it to the store, then wait
// the configured interval (10s by default) and repeat. The first cycle runs
// immediately.
//
// Failures never end the loop. A fetch error (types.ErrFetch) or parse error
// (types.ErrParse) is logged and counted, and the store keeps serving the
// last good snapshot. A value equal to the current snapshot is not
// republished, so sessions see no change.
//
// Every fetch is bounded by the fetch timeout. A Source that ignores its
// context is abandoned when the timeout fires, so Stop always returns within
// roughly one fetch timeout.
package refresher
