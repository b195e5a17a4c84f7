package rail

import "errors"

var (
	ErrNilSegment       = errors.New("segment is nil")
	ErrEmptyTrack       = errors.New("track has no segments")
	ErrDuplicateSegment = errors.New("duplicate segment id")
	ErrUnknownSegment   = errors.New("unknown segment id")
	ErrZeroLength       = errors.New("segment has zero length")
	ErrAlreadyLinked    = errors.New("segment already linked")
	ErrUnsupportedTrack = errors.New("unsupported track file extension")
)
