package tokenstore

import "context"

// Broadcast copies every change from src to n new channels, so the session
// and the view can each react to the same notification. It stops, closing the
// outputs, when ctx is done or src is closed.
func Broadcast(ctx context.Context, src <-chan Change, n int) []<-chan Change {
	outs := make([]chan Change, n)
	ro := make([]<-chan Change, n)
	for i := range outs {
		outs[i] = make(chan Change, 16)
		ro[i] = outs[i]
	}

	go func() {
		defer func() {
			for _, o := range outs {
				close(o)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-src:
				if !ok {
					return
				}
				for _, o := range outs {
					select {
					case o <- c:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return ro
}
