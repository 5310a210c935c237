package audit

import "errors"

// ErrAuditAlreadyRunning rejects a Run invoked while another is in flight.
// It is a rejection, not a failure of the in-flight audit.
var ErrAuditAlreadyRunning = errors.New("audit already running")

// ErrAuthenticationRequired aborts the probing phase when the session
// carries no tenant-scoped identity. Inspection and classification results
// are still produced; every probe is reported as untested.
var ErrAuthenticationRequired = errors.New("authentication required: probing needs a session with tenant claims and no BYPASSRLS")

// IntrospectionError is fatal to the whole run: the table listing could not
// be obtained, so no partial report is produced.
type IntrospectionError struct {
	Err error
}

func (e *IntrospectionError) Error() string {
	return "introspection failed: " + e.Err.Error()
}

func (e *IntrospectionError) Unwrap() error {
	return e.Err
}
