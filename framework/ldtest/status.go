package ldtest

import "fmt"

// Status is the outcome of a test node.
type Status int

const (
	StatusNone Status = iota
	StatusIgnored
	StatusSuccess
	StatusWarning
	StatusError
	StatusCanceled
)

var statusNames = []string{"none", "ignored", "success", "warning", "error", "canceled"} //nolint:gochecknoglobals

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Failed is true for Error and Canceled.
func (s Status) Failed() bool {
	return s == StatusError || s == StatusCanceled
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(data []byte) error {
	parsed, err := ParseStatus(string(data))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func ParseStatus(s string) (Status, error) {
	for i, name := range statusNames {
		if name == s {
			return Status(i), nil
		}
	}
	return StatusNone, fmt.Errorf("unknown test status %q", s)
}

// MergeStatus computes a parent's status after a child with the given status is added. A failed
// parent stays failed, a failed child always propagates, and otherwise any real outcome replaces
// None or Ignored.
func MergeStatus(parent, child Status) Status {
	switch {
	case parent.Failed():
		return parent
	case child.Failed():
		return child
	case (parent == StatusNone || parent == StatusIgnored) && child != StatusNone:
		return child
	case parent == StatusSuccess && child == StatusWarning:
		return child
	default:
		return parent
	}
}
