package agentrt

import "errors"

// ErrOutsideMandate is returned by Helper.Emit when an agent attempts to
// publish an event type its mandate does not authorise.
var ErrOutsideMandate = errors.New("authorization_error")
