package stt

import "time"

// CallTimeout computes a per-call timeout budget from the audio duration.
// Transcription time grows roughly linearly with audio length, so the budget
// is a fraction of the duration plus a fixed floor for connection setup and
// queueing on the provider side. Unknown durations get the floor times four.
func CallTimeout(duration time.Duration) time.Duration {
	const floor = 2 * time.Minute
	if duration <= 0 {
		return 4 * floor
	}
	budget := floor + duration/2
	if max := 45 * time.Minute; budget > max {
		return max
	}
	return budget
}
