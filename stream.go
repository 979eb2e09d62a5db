package liveroom

import "context"

// Commands returns the bounded channel of decoded commands. Range over it
// to consume every command as it arrives; the channel closes once the
// reader task has ended and every buffered item has been delivered. Once
// closed, check Err for the cause (nil means a graceful end of stream).
func (c *Conn[T]) Commands() <-chan Command[T] {
	return c.ch
}

// Recv pulls the next command, blocking until one arrives, the stream ends,
// or ctx is done. ok is false when the stream has ended, with err carrying
// the terminal cause (nil for a graceful close), and also when ctx is done
// first, with err set to ctx.Err().
func (c *Conn[T]) Recv(ctx context.Context) (cmd Command[T], ok bool, err error) {
	select {
	case cmd, ok = <-c.ch:
		if !ok {
			return Command[T]{}, false, c.Err()
		}
		return cmd, true, nil
	case <-ctx.Done():
		return Command[T]{}, false, ctx.Err()
	}
}
