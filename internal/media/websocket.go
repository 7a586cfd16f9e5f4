package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/audiobob/pkg/audio"
)

// maxMessageBytes bounds a single websocket PCM frame.
const maxMessageBytes = 1 << 20

// WebSocket opens ws:// and wss:// descriptors. The server is expected to
// send binary messages of 48 kHz stereo s16le PCM and to close the connection
// normally at the end of the stream. Text messages are ignored.
type WebSocket struct {
	// Buffer is how much received audio is held ahead of playback.
	// Default: 2s.
	Buffer time.Duration
}

var _ Opener = (*WebSocket)(nil)

// Open dials descriptor and waits for the first audio frame.
func (w *WebSocket) Open(ctx context.Context, descriptor string) (Source, error) {
	conn, _, err := websocket.Dial(ctx, descriptor, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrSourceUnavailable, descriptor, err)
	}
	conn.SetReadLimit(maxMessageBytes)

	buf := w.Buffer
	if buf <= 0 {
		buf = 2 * time.Second
	}
	capacity := int(buf.Seconds() * float64(defaultFormat.SampleRate*defaultFormat.Channels))

	rctx, cancel := context.WithCancel(context.Background())
	s := &wsSource{
		stream: newStream(defaultFormat, max(capacity, readChunk)),
		conn:   conn,
		cancel: cancel,
	}
	go s.pump(rctx)

	if err := s.waitReady(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

type wsSource struct {
	*stream
	conn   *websocket.Conn
	cancel context.CancelFunc
}

var _ Source = (*wsSource)(nil)

func (s *wsSource) pump(ctx context.Context) {
	var pcm []int16
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				errors.Is(err, context.Canceled) {
				s.finish(0, nil)
			} else {
				s.finish(0, fmt.Errorf("websocket: read: %w", err))
			}
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		pcm = audio.BytesToInt16s(pcm, data)
		if !s.fill(0, pcm) {
			return
		}
	}
}

// Seek is not supported on live streams.
func (s *wsSource) Seek(float64) error { return ErrNotSeekable }

// Duration is never known for live streams.
func (s *wsSource) Duration() (float64, bool) { return 0, false }

// Close drops the connection without waiting for the close handshake.
func (s *wsSource) Close() error {
	if !s.shut() {
		return nil
	}
	s.cancel()
	return s.conn.CloseNow()
}
