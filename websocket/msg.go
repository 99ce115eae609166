package websocket

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/lodtree/chunk"
	"github.com/aukilabs/lodtree/lod"
	"github.com/aukilabs/lodtree/models"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	ErrTypeMsgSkip    = "msg_skip"
	ErrTypeInvalidMsg = "invalid_msg"
)

// MsgType is the type of a message exchanged with a viewer.
type MsgType string

const (
	MsgTypePing       MsgType = "ping"
	MsgTypePong       MsgType = "pong"
	MsgTypeViewerMove MsgType = "viewer_move"
	MsgTypeWorldInit  MsgType = "world_init"
	MsgTypeChunkEvent MsgType = "chunk_event"
	MsgTypeFrame      MsgType = "frame"
	MsgTypeError      MsgType = "error"
)

// Error codes sent in error messages.
const (
	ErrorCodeInvalidMsg      = "invalid_msg"
	ErrorCodeInvalidPosition = "invalid_position"
	ErrorCodeUnknownMsgType  = "unknown_msg_type"
	ErrorCodeInternal        = "internal_server_error"
)

// Msg is a message exchanged with a viewer.
type Msg struct {
	Type      MsgType         `json:"type"`
	RequestID uint32          `json:"request_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMsg creates a message with the given payload.
func NewMsg(t MsgType, requestID uint32, data any) (Msg, error) {
	msg := Msg{
		Type:      t,
		RequestID: requestID,
		Timestamp: time.Now(),
	}

	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Msg{}, errors.New("encoding message data failed").
				WithType(ErrTypeInvalidMsg).
				WithTag("msg_type", t).
				Wrap(err)
		}
		msg.Data = b
	}
	return msg, nil
}

// DataTo decodes the message payload into v.
func (m Msg) DataTo(v any) error {
	if len(m.Data) == 0 {
		return errors.New("message has no data").
			WithType(ErrTypeInvalidMsg).
			WithTag("msg_type", m.Type)
	}

	if err := json.Unmarshal(m.Data, v); err != nil {
		return errors.New("decoding message data failed").
			WithType(ErrTypeInvalidMsg).
			WithTag("msg_type", m.Type).
			Wrap(err)
	}
	return nil
}

func (m Msg) TypeString() string {
	if m.Type == "" {
		return "unknown"
	}
	return string(m.Type)
}

// Receiver is a function that receives a message and returns the number of
// bytes read.
type Receiver func() (Msg, int, error)

// Sender is a function that sends a message and returns the number of bytes
// written.
type Sender func(Msg) (int, error)

// ResponseSender sends messages to the connected viewer.
type ResponseSender interface {
	Send(t MsgType, requestID uint32, data any)
	SendMsg(Msg)
}

// ReceiveMsg reads a message from a websocket connection.
func ReceiveMsg(conn *websocket.Conn) (Msg, int, error) {
	var b []byte
	if err := websocket.Message.Receive(conn, &b); err != nil {
		return Msg{}, 0, err
	}

	var msg Msg
	if err := json.Unmarshal(b, &msg); err != nil {
		return Msg{}, len(b), errors.New("decoding message failed").
			WithType(ErrTypeInvalidMsg).
			Wrap(err)
	}
	return msg, len(b), nil
}

// SendMsg writes a message as a text frame to a websocket connection.
func SendMsg(conn *websocket.Conn, msg Msg) (int, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return 0, errors.New("encoding message failed").
			WithType(ErrTypeInvalidMsg).
			WithTag("msg_type", msg.Type).
			Wrap(err)
	}

	if err := websocket.Message.Send(conn, string(b)); err != nil {
		return 0, err
	}
	return len(b), nil
}

// ViewerMove is sent by a viewer whenever it moves. The first one creates the
// viewer world around the position.
type ViewerMove struct {
	Position [3]float64 `json:"position"`
}

// WorldInit is sent once the viewer world is created.
type WorldInit struct {
	ViewerID uint32     `json:"viewer_id"`
	Config   lod.Config `json:"config"`
	Roots    int        `json:"roots"`
	TileSize int64      `json:"tile_size"`
}

// ChunkEvent describes a chunk lifecycle change of the viewer world.
type ChunkEvent struct {
	Event   chunk.EventType `json:"event"`
	ChunkID uuid.UUID       `json:"chunk_id"`
	Origin  models.Vec3i    `json:"origin"`
	Size    int64           `json:"size"`
	Kind    chunk.Kind      `json:"kind"`
}

func newChunkEvent(e chunk.Event) ChunkEvent {
	return ChunkEvent{
		Event:   e.Type,
		ChunkID: e.Chunk.ID,
		Origin:  e.Chunk.Box.Min,
		Size:    e.Chunk.Box.Size,
		Kind:    e.Chunk.Kind,
	}
}

// Frame summarizes the world pass of a frame.
type Frame struct {
	Reaped     int    `json:"reaped"`
	Subdivided int    `json:"subdivided"`
	Merged     int    `json:"merged"`
	Remapped   int    `json:"remapped"`
	Nodes      int    `json:"nodes"`
	Chunks     int    `json:"chunks"`
	Zombies    int    `json:"zombies"`
	Pending    int    `json:"pending"`
	Digest     uint64 `json:"digest"`
}

func newFrame(p lod.Pass) Frame {
	return Frame{
		Reaped:     p.Reaped,
		Subdivided: p.Subdivided,
		Merged:     p.Merged,
		Remapped:   p.Remapped,
		Nodes:      p.Stats.Nodes,
		Chunks:     p.Stats.Chunks,
		Zombies:    p.Stats.Zombies,
		Pending:    p.Stats.Pending,
		Digest:     p.Digest,
	}
}

// ErrorResponse is sent when a viewer message can't be handled.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
