package exception

import "errors"

// Ingestion errors
var (
	ErrMissingColumn    = errors.New("required column missing from raw dataset")
	ErrUnknownDirection = errors.New("direction flag has no entry in the lookup table")
	ErrMalformedRecord  = errors.New("malformed raw record")
	ErrCacheCorrupt     = errors.New("schedule cache file is corrupt")
	ErrInvalidArgument  = errors.New("invalid argument")
)
