package capture

import (
	"context"
	"image"
	"sync"
	"time"
)

// Frame is one captured camera frame. The pixel buffer is owned by the
// consumer once received and is never reused by the source.
type Frame struct {
	Image      image.Image
	CapturedAt time.Time
	Seq        int
}

// Source feeds frames from a camera or recording into the scan loop.
// Start may be called once; Stop is idempotent and safe to call before
// Start. The frame channel closes when the source drains or stops.
type Source interface {
	Start(ctx context.Context) error
	Frames() <-chan Frame
	Stop() error
}

// SliceSource replays a fixed set of frames. Used for file-driven scans
// and tests.
type SliceSource struct {
	images []image.Image
	frames chan Frame
	done   chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
}

func NewSliceSource(images ...image.Image) *SliceSource {
	return &SliceSource{
		images: images,
		frames: make(chan Frame),
		done:   make(chan struct{}),
	}
}

func (s *SliceSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return nil
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	go func() {
		defer close(s.frames)
		defer close(s.done)
		for i, img := range s.images {
			// Re-check before blocking on a send: with both select
			// cases ready the runtime picks at random, so a send could
			// otherwise commit after cancellation.
			if ctx.Err() != nil {
				return
			}
			f := Frame{Image: img, CapturedAt: time.Now(), Seq: i}
			select {
			case s.frames <- f:
			case <-ctx.Done():
				return
			}
		}
		// Keep the channel open until cancelled so a consumer that
		// finished the replay blocks like it would on a live camera.
		<-ctx.Done()
	}()
	return nil
}

func (s *SliceSource) Frames() <-chan Frame {
	return s.frames
}

// Stop cancels the producer and waits for it to exit, so once Stop
// returns no further frame can be delivered and the channel is closed.
func (s *SliceSource) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if started {
		<-s.done
	} else {
		close(s.frames)
	}
	return nil
}
