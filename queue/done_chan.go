package queue

import "sync"

// doneChan is the teacher's DoneChan (donechan.go) narrowed to this
// package: unexported, and owned by a SignalingQueue instead of a
// standalone value a caller constructs itself. SignalingQueue closes its
// doneChan the moment the last producer signals, so a caller that wants
// to wait on several queues (or a queue and a ctx.Done()) can do so with
// a single select instead of blocking inside Remove.
type doneChan struct {
	done chan struct{}
	once sync.Once
}

func newDoneChan() *doneChan {
	return &doneChan{done: make(chan struct{})}
}

func (dc *doneChan) close() {
	dc.once.Do(func() {
		close(dc.done)
	})
}

func (dc *doneChan) Done() <-chan struct{} {
	return dc.done
}
