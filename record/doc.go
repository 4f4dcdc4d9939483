// Package record defines the persisted refresh-token record, its status
// lifecycle, and the [Store] contract implemented by the storage backends.
//
// # Status lifecycle
//
// A record is created active and moves exactly once: active → rotated when a
// successor is issued, or any status → revoked on logout or reuse detection.
// Neither rotated nor revoked is ever reversed. The reaper deletes records
// past their expiry regardless of status.
//
// # Architecture boundaries
//
// This package owns the [Record] model and store errors. It performs no I/O
// itself; backends live in record/redisstore and record/sqlitestore. Policy
// such as reuse detection and revocation decisions belongs to the Engine,
// which is the only writer of status transitions.
package record
