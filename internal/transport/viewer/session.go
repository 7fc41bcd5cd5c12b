package viewer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"voxelstream.ai/internal/sim/world/voxel"
)

// session coalesces chunk updates per key so a slow viewer only ever holds
// the latest mesh (or removal) for each chunk.
type session struct {
	id string

	mu      sync.Mutex
	pending map[voxel.ChunkKey][]byte
	order   []voxel.ChunkKey

	notify  chan struct{}
	ctrl    chan []byte
	limiter *rate.Limiter
}

func newSession(id string, perSec int) *session {
	return &session{
		id:      id,
		pending: map[voxel.ChunkKey][]byte{},
		notify:  make(chan struct{}, 1),
		ctrl:    make(chan []byte, 16),
		limiter: rate.NewLimiter(rate.Limit(perSec), max(perSec/4, 1)),
	}
}

func (s *session) push(k voxel.ChunkKey, b []byte) {
	s.mu.Lock()
	if _, ok := s.pending[k]; !ok {
		s.order = append(s.order, k)
	}
	s.pending[k] = b
	s.mu.Unlock()
	s.wake()
}

func (s *session) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *session) next() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return nil, false
	}
	k := s.order[0]
	s.order = s.order[1:]
	b := s.pending[k]
	delete(s.pending, k)
	return b, true
}

func (s *session) backlog() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// reply queues a control message. Control messages bypass the mesh rate
// limit; they are dropped when the viewer stops reading.
func (s *session) reply(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case s.ctrl <- b:
	default:
	}
}

func (s *session) setRate(perSec int) {
	s.limiter.SetLimit(rate.Limit(perSec))
	s.limiter.SetBurst(max(perSec/4, 1))
}

func (s *session) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b := <-s.ctrl:
			if err := s.write(conn, b); err != nil {
				return err
			}
			continue
		case <-s.notify:
		}

		for {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
			// Control replies jump the queue between meshes.
			select {
			case b := <-s.ctrl:
				if err := s.write(conn, b); err != nil {
					return err
				}
			default:
			}
			b, ok := s.next()
			if !ok {
				break
			}
			if err := s.write(conn, b); err != nil {
				return err
			}
		}
	}
}

func (s *session) write(conn *websocket.Conn, b []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
