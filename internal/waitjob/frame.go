package waitjob

import "time"

// Frame is a captured, encoded image pair: a full-resolution encoding and a
// small thumbnail, both already JPEG-encoded, plus the capture wall-clock.
// A Frame is owned by whichever JobContext ingested it and is discarded when
// evicted from that context's bounded window.
type Frame struct {
	Full      []byte
	Thumbnail []byte
	CapturedAt time.Time
}
