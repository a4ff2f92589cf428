package control

import "errors"

var (
	// ErrAlreadyRunning is returned when Start finds another process
	// already listening on the control socket.
	ErrAlreadyRunning = errors.New("control: already running")

	// ErrNotRunning is returned by NewClient when the socket file does
	// not exist.
	ErrNotRunning = errors.New("control: not running")

	// ErrUnauthorized is returned when a request's cookie doesn't match.
	ErrUnauthorized = errors.New("control: unauthorized")
)
