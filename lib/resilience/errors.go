package resilience

import apperrors "github.com/arana198/mission-control-sub011/lib/errors"

// ErrCircuitOpen is returned when a call is rejected because the breaker is
// open. It aliases the central definition in lib/errors so callers can map it
// to a response code.
var ErrCircuitOpen = apperrors.ErrCircuitOpen
