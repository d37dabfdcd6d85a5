// Package rferrors defines the sentinel error kinds shared across the
// runtime, so callers can test failure modes with errors.Is regardless
// of which package raised them. These are the error kinds enumerated by
// the runtime's error-handling design: database, dataflow, scheduler,
// transport, and plugin failures are all one of these.
package rferrors

import "errors"

var (
	ErrUnknownTag      = errors.New("rayfield: unknown tag")
	ErrBusyRecord      = errors.New("rayfield: record has outstanding leases")
	ErrOutOfTags       = errors.New("rayfield: tag space exhausted")
	ErrOutOfMemory     = errors.New("rayfield: memory limit reached and no record could be evicted")
	ErrGenerateFailed  = errors.New("rayfield: generator failed")
	ErrTypeMismatch    = errors.New("rayfield: tag reused with a different type")
	ErrProtocolViolation = errors.New("rayfield: protocol violation")
	ErrTimeout         = errors.New("rayfield: operation timed out")
	ErrAborted         = errors.New("rayfield: aborted by application")
	ErrPluginLoadFailed = errors.New("rayfield: plugin module failed to load")
	ErrSymbolNotFound  = errors.New("rayfield: plugin factory symbol not found")
	ErrJobFailed       = errors.New("rayfield: job reported failure")
	ErrConnectionLost  = errors.New("rayfield: connection to peer host lost")
	ErrNeedByteswap    = errors.New("rayfield: payload requires byte-swap before use")
)
