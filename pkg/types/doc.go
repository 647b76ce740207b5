// Package types defines the Snapshot value shared by the producer and the
// streaming side of livefeed, plus the error kinds a snapshot source reports.
//
// A Snapshot is immutable once built. Its identity for change detection is
// the serialized JSON payload: two snapshots are Equal when their payloads
// are byte-identical, regardless of version or fetch time.
package types
