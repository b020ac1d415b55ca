package core

import "context"

// WorkResult is what an external work executor reports back. A Success=false
// result is a legitimate, recordable outcome (the attempt is auditable); a Go
// error from the WorkFunc itself means the work did not run to completion and
// nothing may be recorded.
type WorkResult struct {
	Success      bool
	Payload      []byte
	ErrorMessage string
	TokenCost    int64
}

// WorkFunc performs the external operation identified by the key. It is
// supplied by the calling framework; the store only invokes it. Cancellation
// and timeouts are the caller's responsibility via ctx: a cancelled work
// function must return ctx.Err() so that no receipt is written for partial
// work.
type WorkFunc func(ctx context.Context, operationKey string) (*WorkResult, error)

// ReceiptObserver is an optional observability hook fired after a receipt is
// appended. Observers must not mutate the receipt and should return quickly.
type ReceiptObserver func(Receipt)
