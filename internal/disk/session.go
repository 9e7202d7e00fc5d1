package disk

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-qdl/internal/interfaces"
)

// Session plays the device side of a connection to an Image. It starts in
// sahara mode and switches to firehose once the loader is uploaded, so the
// full handshake runs against image files.
type Session struct {
	image *Image

	mu        sync.Mutex
	connected bool
	mode      interfaces.Mode
	uploads   int
	pending   [][]byte
}

var _ interfaces.Transport = (*Session)(nil)

// NewSession returns a disconnected session in sahara mode.
func NewSession(img *Image) *Session {
	return &Session{image: img, mode: interfaces.ModeSahara}
}

// StartInFirehose makes the session behave like a device that already runs
// the programmer, as after a previous session.
func (s *Session) StartInFirehose() *Session {
	s.mu.Lock()
	s.mode = interfaces.ModeFirehose
	s.mu.Unlock()
	return s
}

// Connected reports whether Connect succeeded.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Connect opens the loopback pipe.
func (s *Session) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.image == nil {
		return errors.New("no image attached")
	}
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

// Write queues data to be echoed by Read.
func (s *Session) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return errors.New("transport not connected")
	}
	s.pending = append(s.pending, append([]byte(nil), data...))
	return nil
}

// Read returns the oldest queued write.
func (s *Session) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, errors.New("transport not connected")
	}
	if len(s.pending) == 0 {
		return nil, errors.New("no data pending")
	}
	data := s.pending[0]
	s.pending = s.pending[1:]
	return data, nil
}

// Uploads returns how many times the loader was uploaded.
func (s *Session) Uploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}

// NewLoader is an interfaces.LoaderFactory bound to the session.
func (s *Session) NewLoader(t interfaces.Transport) interfaces.Loader {
	return &loader{session: s, transport: t}
}

// NewFirehose is an interfaces.FirehoseFactory bound to the session. It
// returns the image once the session is in firehose mode.
func (s *Session) NewFirehose(ctx context.Context, t interfaces.Transport) (interfaces.Firehose, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !t.Connected() {
		return nil, errors.New("transport not connected")
	}
	s.mu.Lock()
	mode := s.mode
	s.mu.Unlock()
	if mode != interfaces.ModeFirehose {
		return nil, errors.Errorf("firehose configure sent in %s mode", mode)
	}
	return s.image, nil
}

type loader struct {
	session   *Session
	transport interfaces.Transport
}

func (l *loader) Connect(ctx context.Context) (interfaces.Mode, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !l.transport.Connected() {
		return "", errors.New("transport not connected")
	}
	l.session.mu.Lock()
	defer l.session.mu.Unlock()
	return l.session.mode, nil
}

func (l *loader) UploadLoader(ctx context.Context) (interfaces.Mode, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.session.mu.Lock()
	defer l.session.mu.Unlock()
	if l.session.mode != interfaces.ModeSahara {
		return l.session.mode, errors.Errorf("loader upload sent in %s mode", l.session.mode)
	}
	l.session.uploads++
	l.session.mode = interfaces.ModeFirehose
	return l.session.mode, nil
}
