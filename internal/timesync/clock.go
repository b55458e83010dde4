package timesync

import "time"

// epoch anchors the monotonic clock. Readings are only meaningful within
// one process; cross-host comparisons always go through the offset
// estimated by Client.
var epoch = time.Now()

// Nanotime returns the process monotonic clock in nanoseconds. It is the
// time base for packet timestamps on the sender and play-out deadlines on
// the receiver, and is immune to wall-clock steps.
func Nanotime() int64 {
	return int64(time.Since(epoch))
}
