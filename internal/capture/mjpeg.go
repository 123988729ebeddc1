package capture

import (
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MJPEGSource pulls frames from an IP camera serving an
// multipart/x-mixed-replace JPEG stream. The newest frame wins: if the
// consumer is mid-recognition, intermediate frames are dropped rather
// than queued.
type MJPEGSource struct {
	url    string
	client *http.Client
	log    zerolog.Logger

	frames    chan Frame
	closeOnce sync.Once

	mu      sync.Mutex
	started bool
	stopped bool
	reading bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewMJPEGSource(url string, log zerolog.Logger) *MJPEGSource {
	return &MJPEGSource{
		url:    url,
		client: &http.Client{},
		log:    log,
		frames: make(chan Frame, 1),
		done:   make(chan struct{}),
	}
}

func (s *MJPEGSource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("mjpeg source already started or stopped")
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	cancel := s.cancel
	s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return s.failStart(cancel, fmt.Errorf("building stream request: %w", err))
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return s.failStart(cancel, fmt.Errorf("connecting to camera stream: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return s.failStart(cancel, fmt.Errorf("camera stream returned status %d", resp.StatusCode))
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		resp.Body.Close()
		return s.failStart(cancel, fmt.Errorf("camera stream is not multipart mjpeg: %q", resp.Header.Get("Content-Type")))
	}

	s.mu.Lock()
	s.reading = true
	s.mu.Unlock()
	go s.readLoop(ctx, resp.Body, params["boundary"])
	return nil
}

// failStart releases what a failed Start had acquired and closes the
// frame channel so a consumer already ranging over it unblocks.
func (s *MJPEGSource) failStart(cancel context.CancelFunc, err error) error {
	cancel()
	s.closeFrames()
	return err
}

func (s *MJPEGSource) closeFrames() {
	s.closeOnce.Do(func() { close(s.frames) })
}

func (s *MJPEGSource) readLoop(ctx context.Context, body io.ReadCloser, boundary string) {
	defer s.closeFrames()
	defer close(s.done)
	defer body.Close()

	reader := multipart.NewReader(body, boundary)
	seq := 0
	for {
		if ctx.Err() != nil {
			return
		}
		part, err := reader.NextPart()
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("camera stream read failed")
			}
			return
		}
		img, err := jpeg.Decode(part)
		part.Close()
		if err != nil {
			// A torn frame is routine on mjpeg streams.
			s.log.Debug().Err(err).Msg("skipping undecodable frame")
			continue
		}

		f := Frame{Image: img, CapturedAt: time.Now(), Seq: seq}
		seq++
		select {
		case s.frames <- f:
		default:
			// Consumer busy: replace the stale frame with this one.
			select {
			case <-s.frames:
			default:
			}
			select {
			case s.frames <- f:
			default:
			}
		}
	}
}

func (s *MJPEGSource) Frames() <-chan Frame {
	return s.frames
}

// Stop tears the stream down and waits for the reader to finish, so the
// connection is released by the time it returns. Safe to call repeatedly
// and before Start.
func (s *MJPEGSource) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	reading := s.reading
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if reading {
		<-s.done
	}
	s.closeFrames()
	return nil
}
