package model

import "errors"

var (
	ErrTokenRevoked       = errors.New("refresh token revoked")
	ErrTokenExpired       = errors.New("refresh token expired")
	ErrTokenMismatch      = errors.New("refresh token mismatch")
	ErrTokenInvalid       = errors.New("refresh token invalid")
	ErrAccessTokenExpired = errors.New("access token expired")
)
