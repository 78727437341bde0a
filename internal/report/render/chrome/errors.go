package chrome

import "errors"

// Render errors
var (
	ErrWaitTimeout    = errors.New("wait timeout exceeded")
	ErrNavigateFailed = errors.New("navigation failed")
	ErrPrintFailed    = errors.New("document print failed")
)

// Pool errors
var (
	ErrPoolShutdown       = errors.New("pool is shutting down")
	ErrPoolExhausted      = errors.New("no renderer handle available within acquire timeout")
	ErrBrowserUnavailable = errors.New("browser could not be started")
)
