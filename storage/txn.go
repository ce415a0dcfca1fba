package storage

import "sync/atomic"

// nextTID is the counter behind globally unique TransactionIDs, grounded in GoDB's
// NewTID() convention (lab1_query.go calls NewTID() per transaction).
var nextTID uint64

// NewTxnID returns a fresh, globally unique TransactionID.
func NewTxnID() TransactionID {
	return TransactionID(atomic.AddUint64(&nextTID, 1))
}
