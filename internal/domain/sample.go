package domain

import "time"

// DecodedSample is one physical value extracted from a frame.
// Once handed to the recorder it is never mutated.
type DecodedSample struct {
	Timestamp time.Time
	FrameID   uint32
	Signal    string
	Value     float64
	Unit      string
}
