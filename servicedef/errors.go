package servicedef

import "errors"

// ErrUnknownCommand means a frame's root element is not a known command kind.
var ErrUnknownCommand = errors.New("unknown command")

// ErrEmptyEnvelope means a frame body had no root element.
var ErrEmptyEnvelope = errors.New("envelope has no root element")

// RemoteError is an error that happened on the other side of a connection, as described in a
// failed Response.
type RemoteError struct {
	Message Text `xml:"Message"`
	Stack   Text `xml:"Stack,omitempty"`
}

func (e *RemoteError) Error() string { return string(e.Message) }

// NewRemoteError describes err for sending in a Response. A RemoteError is passed through as is.
func NewRemoteError(err error, stack string) *RemoteError {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote
	}
	return &RemoteError{Message: Text(err.Error()), Stack: Text(stack)}
}
