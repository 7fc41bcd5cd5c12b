package viewer

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voxelstream.ai/internal/sim/world"
	"voxelstream.ai/internal/sim/world/mesh"
	"voxelstream.ai/internal/sim/world/voxel"
	"voxelstream.ai/internal/viewerproto"
)

// Camera receives POSE updates.
type Camera interface {
	SetPose(pos, fwd mgl64.Vec3)
	SetAngles(yawDeg, pitchDeg float64)
}

// EditQueue is the part of the world a viewer drives.
type EditQueue interface {
	RequestEdit(req world.EditRequest) bool
	Tick() uint64
}

type Options struct {
	Logger *zap.Logger
	Camera Camera

	// Palette maps block names to ids for BUILD.
	Palette []string
	Params  viewerproto.WorldParams

	// MeshesPerSecond is the default per-session send rate.
	MeshesPerSecond int
	// AllowRemote accepts connections from non-loopback addresses.
	AllowRemote bool
	EditTimeout time.Duration
}

// Server streams chunk meshes to websocket viewers and forwards their pose
// and edit requests. It implements world.Renderer.
type Server struct {
	log    *zap.Logger
	opts   Options
	camera Camera
	index  map[string]uint16
	edits  EditQueue

	upgrader websocket.Upgrader

	mu       sync.Mutex
	meshes   map[voxel.ChunkKey][]byte
	sessions map[string]*session
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MeshesPerSecond <= 0 {
		opts.MeshesPerSecond = 200
	}
	if opts.EditTimeout <= 0 {
		opts.EditTimeout = 2 * time.Second
	}
	idx := make(map[string]uint16, len(opts.Palette))
	for i, name := range opts.Palette {
		idx[name] = uint16(i)
	}
	return &Server{
		log:    opts.Logger,
		opts:   opts,
		camera: opts.Camera,
		index:  idx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		meshes:   map[voxel.ChunkKey][]byte{},
		sessions: map[string]*session{},
	}
}

// Bind connects the edit queue. Call it before serving.
func (s *Server) Bind(q EditQueue) { s.edits = q }

// Submit caches the mesh and queues it for every session. Called from the
// world loop; never blocks on the network.
func (s *Server) Submit(k voxel.ChunkKey, m *mesh.Mesh) {
	b, err := json.Marshal(viewerproto.NewChunkMesh(m))
	if err != nil {
		s.log.Error("encode mesh", zap.Stringer("chunk", k), zap.Error(err))
		return
	}
	s.mu.Lock()
	s.meshes[k] = b
	for _, sess := range s.sessions {
		sess.push(k, b)
	}
	s.mu.Unlock()
}

func (s *Server) Remove(k voxel.ChunkKey) {
	b, _ := json.Marshal(viewerproto.NewChunkRemove(k))
	s.mu.Lock()
	delete(s.meshes, k)
	for _, sess := range s.sessions {
		sess.push(k, b)
	}
	s.mu.Unlock()
}

// Cached is the number of meshes held for replay to new sessions.
func (s *Server) Cached() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.meshes)
}

func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.opts.AllowRemote && !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub viewerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil || sub.Type != viewerproto.TypeSubscribe || sub.ProtocolVersion != viewerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		perSec := s.opts.MeshesPerSecond
		if sub.MeshesPerSecond > 0 && sub.MeshesPerSecond < perSec {
			perSec = sub.MeshesPerSecond
		}
		sess := newSession(uuid.NewString(), perSec)
		log := s.log.With(zap.String("session", sess.id))

		welcome := viewerproto.WelcomeMsg{
			Type:            viewerproto.TypeWelcome,
			ProtocolVersion: viewerproto.Version,
			SessionID:       sess.id,
			WorldParams:     s.opts.Params,
			BlockPalette:    s.opts.Palette,
		}
		if s.edits != nil {
			welcome.Tick = s.edits.Tick()
		}
		if err := writeJSON(conn, welcome); err != nil {
			return
		}

		s.join(sess)
		defer s.leave(sess)
		log.Info("viewer joined", zap.Int("meshes_per_second", perSec))

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() { writeErr <- sess.writeLoop(ctx, conn) }()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			s.handle(ctx, sess, msg)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case err := <-writeErr:
			if err != nil && ctx.Err() == nil {
				log.Debug("viewer writer stopped", zap.Error(err))
			}
		case <-time.After(500 * time.Millisecond):
		}
		log.Info("viewer left")
	}
}

func (s *Server) join(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]voxel.ChunkKey, 0, len(s.meshes))
	for k := range s.meshes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CZ != keys[j].CZ {
			return keys[i].CZ < keys[j].CZ
		}
		return keys[i].CX < keys[j].CX
	})
	for _, k := range keys {
		sess.push(k, s.meshes[k])
	}
	s.sessions[sess.id] = sess
}

func (s *Server) leave(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
}

func (s *Server) handle(ctx context.Context, sess *session, msg []byte) {
	var base viewerproto.Base
	if err := json.Unmarshal(msg, &base); err != nil || base.ProtocolVersion != viewerproto.Version {
		sess.reply(errorMsg(viewerproto.ErrBadRequest, "bad message"))
		return
	}
	switch base.Type {
	case viewerproto.TypePose:
		var p viewerproto.PoseMsg
		if err := json.Unmarshal(msg, &p); err != nil {
			sess.reply(errorMsg(viewerproto.ErrBadRequest, "bad POSE"))
			return
		}
		s.applyPose(p)
	case viewerproto.TypeDig:
		ok, busy := s.edit(ctx, world.EditRequest{Kind: world.EditDig})
		if busy {
			sess.reply(errorMsg(viewerproto.ErrBusy, "edit queue full"))
			return
		}
		sess.reply(editResult(world.EditDig, ok))
	case viewerproto.TypeBuild:
		var b viewerproto.BuildMsg
		if err := json.Unmarshal(msg, &b); err != nil {
			sess.reply(errorMsg(viewerproto.ErrBadRequest, "bad BUILD"))
			return
		}
		def, known := s.index[strings.ToUpper(strings.TrimSpace(b.Block))]
		if !known || def == 0 {
			sess.reply(errorMsg(viewerproto.ErrUnknownBlock, "unknown block "+b.Block))
			return
		}
		ok, busy := s.edit(ctx, world.EditRequest{Kind: world.EditBuild, Def: def})
		if busy {
			sess.reply(errorMsg(viewerproto.ErrBusy, "edit queue full"))
			return
		}
		sess.reply(editResult(world.EditBuild, ok))
	case viewerproto.TypeSubscribe:
		var sub viewerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err == nil && sub.MeshesPerSecond > 0 {
			sess.setRate(min(sub.MeshesPerSecond, s.opts.MeshesPerSecond))
		}
	default:
		sess.reply(errorMsg(viewerproto.ErrBadRequest, "unknown type "+base.Type))
	}
}

func (s *Server) applyPose(p viewerproto.PoseMsg) {
	if s.camera == nil {
		return
	}
	pos := mgl64.Vec3(p.Pos)
	if p.Forward != nil {
		s.camera.SetPose(pos, mgl64.Vec3(*p.Forward))
		return
	}
	s.camera.SetPose(pos, mgl64.Vec3{})
	s.camera.SetAngles(p.Yaw, p.Pitch)
}

// edit queues req and waits for its result. busy reports a full queue.
func (s *Server) edit(ctx context.Context, req world.EditRequest) (ok, busy bool) {
	if s.edits == nil {
		return false, true
	}
	resp := make(chan bool, 1)
	req.Resp = resp
	if !s.edits.RequestEdit(req) {
		return false, true
	}

	timer := time.NewTimer(s.opts.EditTimeout)
	defer timer.Stop()
	select {
	case ok := <-resp:
		return ok, false
	case <-timer.C:
		return false, false
	case <-ctx.Done():
		return false, false
	}
}

func editResult(kind world.EditKind, ok bool) viewerproto.EditResultMsg {
	return viewerproto.EditResultMsg{Type: viewerproto.TypeEditResult, ProtocolVersion: viewerproto.Version, Kind: kind.String(), OK: ok}
}

func errorMsg(code, message string) viewerproto.ErrorMsg {
	return viewerproto.ErrorMsg{Type: viewerproto.TypeError, ProtocolVersion: viewerproto.Version, Code: code, Message: message}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

// IsLoopbackRemote reports whether an http.Request RemoteAddr is a loopback
// address.
func IsLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
