package rpm

import "fmt"

const (
	ValidationReasonMalformed            = "malformed"
	ValidationReasonOutOfRange           = "out_of_range"
	ValidationReasonUnsupportedVitalType = "unsupported_vital_type"
	ValidationReasonUnknownUnit          = "unknown_unit"
	ValidationReasonDeviceRetired        = "device_retired"
)

// ValidationError marks telemetry that is dropped, never one that aborts the
// ingestion stream.
type ValidationError struct {
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error (%s): %s", e.Reason, e.Detail)
}

type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}

type InvalidTransitionError struct {
	From   string
	Action string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s from state %s", e.Action, e.From)
}

type ForbiddenError struct {
	Msg string
}

func (e *ForbiddenError) Error() string {
	return e.Msg
}
