package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to avoid leaking the producer goroutine when a synthesis stream is
// abandoned, e.g. after a barge-in.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}

// Collect reads every chunk from ch until it is closed and returns them
// concatenated.
func Collect(ch <-chan []byte) []byte {
	var out []byte
	for chunk := range ch {
		out = append(out, chunk...)
	}
	return out
}
