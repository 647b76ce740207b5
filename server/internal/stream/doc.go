// Package stream serves the live snapshot to long-lived client connections.
//
// Manager admits each connection as a Session and runs one watch-loop per
// session on the request goroutine:
//
//  1. read the current snapshot from the store;
//  2. if it equals the last value sent to this session, wait for the poll
//     interval or the store's change signal, whichever comes first;
//  3. otherwise send it as one message and remember it.
//
// Equality is by payload, not version, so a client never receives the same
// value twice in a row. A failed send means the client went away: the loop
// ends and the session is released. Closing the request context or calling
// Shutdown ends the loop at its next wait; a message in flight is never cut.
//
// Two transports share the loop through the Sink interface:
//
//	GET /events     Server-Sent Events, one "data:" frame per change
//	GET /ws/stream  WebSocket, one text message per change
//
// Admission control is optional: MaxSessions caps concurrent sessions (503)
// and AcceptRate limits new connections per second (429).
package stream
