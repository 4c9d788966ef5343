package protocol

import "errors"

var (
	ErrTruncated       = errors.New("protocol: truncated data")
	ErrUnexpectedCode  = errors.New("protocol: unexpected command code")
	ErrInvalidCallData = errors.New("protocol: invalid phone control data")
	ErrInvalidUUID     = errors.New("protocol: invalid app uuid")
)
