package parser

import (
	"fmt"
	"sync/atomic"
	"time"
)

// IDGenerator yields record identifiers.
type IDGenerator interface {
	Next() string
}

// BatchIDs produces "sign-<unix-ms>-<n>" identifiers for one detection batch.
// The counter makes ids unique within the batch even when the clock does not move.
type BatchIDs struct {
	millis int64
	n      atomic.Int64
}

// NewBatchIDs starts a batch at the given time.
func NewBatchIDs(now time.Time) *BatchIDs {
	return &BatchIDs{millis: now.UnixMilli()}
}

func (b *BatchIDs) Next() string {
	n := b.n.Add(1) - 1
	return fmt.Sprintf("sign-%d-%d", b.millis, n)
}
