package async

// Run executes f in a goroutine and delivers its result on the returned
// channel. The channel is unbuffered; exactly one value is sent.
func Run[T any](f func() T) <-chan T {
	c := make(chan T)
	go func() {
		c <- f()
	}()
	return c
}
