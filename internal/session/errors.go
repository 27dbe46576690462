package session

import "errors"

var (
	ErrNotConnected    = errors.New("not connected")
	ErrEmptyQueue      = errors.New("no selected files to send")
	ErrNotFound        = errors.New("file not found")
	ErrNotDeletable    = errors.New("only selected files can be deleted")
	ErrWrongRole       = errors.New("command not available for this role")
	ErrSendFailure     = errors.New("send failed")
	ErrReceiveMismatch = errors.New("payload does not match any announced file")
	ErrPeer            = errors.New("peer reported an error")
	ErrChannel         = errors.New("channel error")
	ErrAckTimeout      = errors.New("timed out waiting for acknowledgement")
	ErrSessionClosed   = errors.New("session closed")
)
