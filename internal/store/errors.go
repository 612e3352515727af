package store

import "errors"

var (
	ErrEmptySessionID = errors.New("empty_session_id")
	ErrEmptyURL       = errors.New("empty_url")
)
