package daqcore

import (
	"sync"

	"github.com/ilegault/TDS-T8/internal/domain"
	"github.com/ilegault/TDS-T8/internal/ports"
)

// SnapshotFunc is the signature accepted by NewCallbackObserver.
type SnapshotFunc func(*Snapshot)

// NewCallbackObserver adapts a function into a SnapshotObserver so callers
// can plug arbitrary handlers without defining structs. The function runs on
// the control goroutine and must return quickly.
func NewCallbackObserver(fn SnapshotFunc) SnapshotObserver {
	return &callbackObserver{fn: fn}
}

// NewChannelObserver exposes snapshots via a channel; it returns the
// observer, the read-only channel, and a close function the caller should
// invoke during shutdown. When the channel buffer is full the snapshot is
// dropped, never blocking the control loop.
func NewChannelObserver(buffer int) (SnapshotObserver, <-chan *Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *domain.Snapshot, buffer)
	o := &channelObserver{
		ch:     ch,
		closed: make(chan struct{}),
	}
	return o, ch, func() { o.close() }
}

type callbackObserver struct {
	fn SnapshotFunc
}

func (o *callbackObserver) Publish(s *domain.Snapshot) {
	if o.fn == nil {
		return
	}
	o.fn(s)
}

type channelObserver struct {
	ch     chan *domain.Snapshot
	closed chan struct{}
	once   sync.Once
}

func (o *channelObserver) Publish(s *domain.Snapshot) {
	select {
	case <-o.closed:
		return
	default:
	}

	select {
	case o.ch <- s:
	default:
	}
}

func (o *channelObserver) close() {
	o.once.Do(func() {
		close(o.closed)
		close(o.ch)
	})
}

var (
	_ ports.SnapshotObserver = (*callbackObserver)(nil)
	_ ports.SnapshotObserver = (*channelObserver)(nil)
)
