package inference

import "context"

// Pool bounds how many predictions run at once. Requests beyond the
// bound wait for a slot instead of piling onto the model one at a time
// behind a single mutex.
type Pool struct {
	slots chan struct{}
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 4
	}
	return &Pool{slots: make(chan struct{}, size)}
}

// Do runs fn on an acquired slot, or returns ctx.Err() if the caller
// gives up while waiting.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.slots }()
	fn()
	return nil
}

// Size reports the pool's concurrency bound.
func (p *Pool) Size() int {
	return cap(p.slots)
}
