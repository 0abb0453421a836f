package paktypes

import (
	"errors"
)

var (
	ErrMalformedStoreKey = errors.New("malformed store key")
	ErrStoreNotFound     = errors.New("store not found")
	ErrNotAGroup         = errors.New("store is not a group")
	ErrDataAccess        = errors.New("data access error")
	ErrVersionConflict   = errors.New("store was concurrently modified")
	ErrBusy              = errors.New("operation already in progress")
)
