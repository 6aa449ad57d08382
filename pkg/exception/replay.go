package exception

import "errors"

// Replay errors
var (
	ErrEmptySchedule = errors.New("no events inside the replay window")
	ErrHeadCollision = errors.New("primary and restoration queues yield the same head")
)
