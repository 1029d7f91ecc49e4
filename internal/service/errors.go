package service

import (
	"errors"
	"fmt"
)

var (
	// ErrIdentity means the identity provider supplied no usable subject
	ErrIdentity = errors.New("identity has no subject")

	// ErrForbidden is the family of download token rejections. Callers map it to 403.
	ErrForbidden = errors.New("forbidden")

	ErrTokenNotFound        = fmt.Errorf("%w: invalid download token", ErrForbidden)
	ErrTokenExpired         = fmt.Errorf("%w: download token has expired", ErrForbidden)
	ErrTokenCollected       = fmt.Errorf("%w: download token has already been used", ErrForbidden)
	ErrTokenNotDownloadable = fmt.Errorf("%w: download token is not available for download", ErrForbidden)
)
