package websocket

import (
	"context"
	"math"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/lodtree/chunk"
	"github.com/aukilabs/lodtree/featureflag"
	httpcmn "github.com/aukilabs/lodtree/http"
	"github.com/aukilabs/lodtree/lod"
	"github.com/aukilabs/lodtree/models"
	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/net/websocket"
)

// RealtimeHandler represents a service that streams the level of detail
// world of a single viewer as it moves.
type RealtimeHandler struct {
	// The time a client is idle before being disconnected.
	ClientIdleTimeout time.Duration

	// The interval between each world pass.
	FrameDuration time.Duration

	// The layout of the viewer world.
	World lod.Config

	// The build queue options of the viewer world. The observer is set by
	// the handler.
	Queue chunk.QueueOptions

	// The store that contains all the connected viewers.
	Viewers *models.ViewerStore

	FeatureFlags featureflag.FeatureFlag

	conn     *websocket.Conn
	clientID string

	viewer *models.Viewer
	world  *lod.World
	queue  *chunk.Queue
	frames uint64
	idle   bool
	events []chunk.Event
}

func (h *RealtimeHandler) HandleConnect(conn *websocket.Conn) {
	h.clientID = httpcmn.ClientID(conn.Request())
	h.conn = conn
}

func (h *RealtimeHandler) HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error {
	respond.Send(MsgTypePong, msg.RequestID, nil)
	return nil
}

func (h *RealtimeHandler) HandleViewerMove(ctx context.Context, respond ResponseSender, msg Msg) error {
	var req ViewerMove
	if err := msg.DataTo(&req); err != nil {
		respond.SendMsg(errorMsg(msg.RequestID, ErrorCodeInvalidMsg, err))
		return errors.New("invalid viewer move").
			WithType(ErrTypeMsgSkip).
			Wrap(err)
	}

	position := mgl64.Vec3(req.Position)
	if !isValidPosition(position) {
		respond.SendMsg(errorMsg(msg.RequestID, ErrorCodeInvalidPosition, nil))
		return errors.New("invalid viewer position").
			WithType(ErrTypeMsgSkip).
			WithTag("position", req.Position)
	}

	if h.viewer != nil {
		h.viewer.SetPosition(position)
		return nil
	}

	if err := h.join(position); err != nil {
		respond.SendMsg(errorMsg(msg.RequestID, ErrorCodeInternal, nil))
		return err
	}

	respond.Send(MsgTypeWorldInit, msg.RequestID, WorldInit{
		ViewerID: h.viewer.ID,
		Config:   h.World,
		Roots:    h.World.RootCount(),
		TileSize: h.World.TileSize(),
	})

	// Chunks created by the initial build are streamed right away rather
	// than waiting for the next frame.
	h.flushEvents(respond)
	return nil
}

func (h *RealtimeHandler) join(position mgl64.Vec3) error {
	opts := h.Queue
	opts.Name = h.clientID
	opts.Observer = h.observe

	queue := chunk.NewQueue(opts)
	world, err := lod.NewWorld(h.World, queue)
	if err != nil {
		queue.Close()
		return errors.New("creating viewer world failed").Wrap(err)
	}

	h.queue = queue
	h.world = world

	if err := world.Initialize(position); err != nil {
		h.leave()
		return errors.New("initializing viewer world failed").Wrap(err)
	}

	h.viewer = models.NewViewer(h.Viewers.NewID(), h.clientID, position)
	h.Viewers.Add(h.viewer)
	return nil
}

func (h *RealtimeHandler) HandleFrame(ctx context.Context, respond ResponseSender) error {
	if h.world == nil {
		return errors.New("viewer not joined").
			WithType(ErrTypeMsgSkip)
	}

	// A world that reached its fixed point only changes when the viewer
	// moves.
	if !h.viewer.TakeMoved() && h.idle && h.queue.Pending() == 0 {
		return errors.New("world is idle").
			WithType(ErrTypeMsgSkip)
	}

	pass, err := h.world.Update(h.viewer.Position())
	if err != nil {
		return err
	}

	h.frames++
	h.idle = !pass.Changed() && pass.Stats.Pending == 0 && pass.Stats.Zombies == 0
	h.viewer.SetSummary(models.WorldSummary{
		Nodes:   pass.Stats.Nodes,
		Chunks:  pass.Stats.Chunks,
		Zombies: pass.Stats.Zombies,
		Pending: pass.Stats.Pending,
		Digest:  pass.Digest,
		Frames:  h.frames,
	})

	h.flushEvents(respond)

	if pass.Changed() {
		h.FeatureFlags.IfNotSet(featureflag.FlagDisableFrameBroadcast, func() {
			respond.Send(MsgTypeFrame, 0, newFrame(pass))
		})
	}
	return nil
}

// observe buffers the chunk events raised by the world. It is called from the
// goroutine handling the connection.
func (h *RealtimeHandler) observe(e chunk.Event) {
	h.events = append(h.events, e)
}

func (h *RealtimeHandler) flushEvents(respond ResponseSender) {
	for _, e := range h.events {
		if h.FeatureFlags.IsSet(eventFlag(e.Type)) {
			continue
		}
		respond.Send(MsgTypeChunkEvent, 0, newChunkEvent(e))
	}

	clear(h.events)
	h.events = h.events[:0]
}

func eventFlag(t chunk.EventType) featureflag.Flag {
	switch t {
	case chunk.EventCreated:
		return featureflag.FlagDisableChunkCreateBroadcast
	case chunk.EventCompleted:
		return featureflag.FlagDisableChunkCompleteBroadcast
	case chunk.EventKilled:
		return featureflag.FlagDisableChunkKillBroadcast
	default:
		return featureflag.FlagDisableChunkDestroyBroadcast
	}
}

func (h *RealtimeHandler) HandleDisconnect(_ error) {
	h.leave()
}

// leave stops the viewer world and destroys its chunks.
func (h *RealtimeHandler) leave() {
	if h.viewer != nil {
		h.Viewers.Remove(h.viewer)
		h.viewer = nil
	}

	if h.queue != nil {
		h.queue.Close()
		h.queue = nil
	}

	if h.world != nil {
		h.world.Close()
		h.world = nil
	}

	h.events = nil
}

func (h *RealtimeHandler) Receiver() Receiver {
	return func() (Msg, int, error) {
		return ReceiveMsg(h.conn)
	}
}

func (h *RealtimeHandler) Sender() Sender {
	return func(msg Msg) (int, error) {
		return SendMsg(h.conn, msg)
	}
}

func (h *RealtimeHandler) Close() {
	h.leave()
}

func (h *RealtimeHandler) FrameInterval() time.Duration {
	return h.FrameDuration
}

func (h *RealtimeHandler) IdleTimeout() time.Duration {
	return h.ClientIdleTimeout
}

func (h *RealtimeHandler) CurrentViewer() *models.Viewer {
	return h.viewer
}

// CurrentWorld returns the viewer world. Nil until the first viewer move.
func (h *RealtimeHandler) CurrentWorld() *lod.World {
	return h.world
}

func (h *RealtimeHandler) GetClientID() string {
	return h.clientID
}

// The largest coordinate a viewer can move to. Keeps the world lattice far
// from integer overflow.
const maxCoordinate = 1 << 50

func isValidPosition(v mgl64.Vec3) bool {
	for _, c := range v {
		if math.IsNaN(c) || math.Abs(c) > maxCoordinate {
			return false
		}
	}
	return true
}
