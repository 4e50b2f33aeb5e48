package domain

import "errors"

var (
	ErrUsernameTaken = errors.New("username already taken")
	ErrRelayStopped  = errors.New("relay is shutting down")
)
