package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/lodtree/models"
	"golang.org/x/net/websocket"
)

const (
	sendChanSize    = 512
	receiveChanSize = 64
)

// Handler represents a viewer connection handler.
type Handler interface {
	// Handles a client connection.
	HandleConnect(conn *websocket.Conn)

	// Handles a ping request.
	HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a viewer position update. The first one creates the viewer
	// world.
	HandleViewerMove(ctx context.Context, respond ResponseSender, msg Msg) error

	// Runs a pass of the viewer world and sends the resulting chunk events.
	HandleFrame(ctx context.Context, respond ResponseSender) error

	// Handles a client's disconnection.
	HandleDisconnect(error)

	// Creates a message receiver used to receive incoming messages.
	Receiver() Receiver

	// Creates a message sender used to send messages.
	Sender() Sender

	// Closes the handler and releases its allocated resources.
	Close()

	// The interval between each world pass.
	FrameInterval() time.Duration

	// The time a client is idle before being disconnected.
	IdleTimeout() time.Duration

	// The viewer of the connection. Nil until the first viewer move.
	CurrentViewer() *models.Viewer

	// Get ClientID
	GetClientID() string
}

// Server returns a websocket server that handles every connection with a
// handler created by newHandler.
func Server(ctx context.Context, handshake func(*websocket.Config, *http.Request) error, newHandler func() Handler) websocket.Server {
	return websocket.Server{
		Handshake: handshake,
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			handler := newHandler()
			defer handler.Close()

			Handle(ctx, conn, handler)
		},
	}
}

// Handle handles the given connection until it is closed or ctx is done.
func Handle(ctx context.Context, conn *websocket.Conn, h Handler) {
	handler := handler{
		Conn:    conn,
		Handler: h,
	}

	handler.Handle(ctx)
}

type handler struct {
	// The WebSocket connection.
	Conn *websocket.Conn

	// The viewer handler.
	Handler Handler

	sendChan       chan Msg
	sendDone       chan struct{}
	receiveChan    chan Msg
	sender         Sender
	receiver       Receiver
	disconnectChan chan error
}

func (h *handler) Handle(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.Handler.HandleConnect(h.Conn)

	h.disconnectChan = make(chan error, 8)
	defer func() {
		for len(h.disconnectChan) != 0 {
			<-h.disconnectChan
		}
	}()

	var wg sync.WaitGroup

	h.sendChan = make(chan Msg, sendChanSize)
	h.sendDone = make(chan struct{})
	h.sender = h.Handler.Sender()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startSending(ctx)
	}()

	h.receiveChan = make(chan Msg, receiveChanSize)
	h.receiver = h.Handler.Receiver()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startReceiving(ctx)
	}()

	idleTimeout := h.Handler.IdleTimeout()
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	frameTicker := time.NewTicker(h.Handler.FrameInterval())
	defer frameTicker.Stop()

	var responder = responseSender{
		send:    h.send,
		sendMsg: h.sendMsg,
	}

	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			// Closing the connection unblocks the receiving goroutine.
			h.handleDisconnect(ctx.Err())

		case <-idleTimer.C:
			h.disconnect(errors.New("idle connection").WithTag("duration", idleTimeout))

		case <-frameTicker.C:
			if err := h.Handler.HandleFrame(ctx, responder); err != nil && !errors.IsType(err, ErrTypeMsgSkip) {
				h.disconnect(errors.New("handling frame failed").Wrap(err))
			}

		case msg := <-h.receiveChan:
			idleTimer.Stop()
			idleTimer.Reset(idleTimeout)

			if err := h.handleMessage(ctx, msg, responder); err != nil && !errors.IsType(err, ErrTypeMsgSkip) {
				h.disconnect(errors.New("handling message failed").Wrap(err))
			}

		case err := <-h.disconnectChan:
			h.handleDisconnect(err)
			if ctx.Err() == nil {
				// cancel context so go routines can cleanly exit
				cancel()
			}
		}
	}

	wg.Wait()
}

func (h *handler) send(t MsgType, requestID uint32, data any) {
	msg, err := NewMsg(t, requestID, data)
	if err != nil {
		logs.WithTag("msg_type", t).
			WithClientID(h.Handler.GetClientID()).
			Debug(err)
		return
	}
	h.sendMsg(msg)
}

// sendMsg queues a message. Messages sent after the sending loop stopped are
// dropped.
func (h *handler) sendMsg(msg Msg) {
	select {
	case h.sendChan <- msg:
	case <-h.sendDone:
	}
}

func (h *handler) startSending(ctx context.Context) {
	defer close(h.sendDone)
	defer func() {
		for len(h.sendChan) != 0 {
			<-h.sendChan
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-h.sendChan:
			if _, err := h.sender(msg); err != nil {
				h.disconnect(errors.New("sending message failed").Wrap(err))
				return
			}
		}
	}
}

func (h *handler) startReceiving(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		default:
			msg, _, err := h.receiver()
			if errors.IsType(err, ErrTypeInvalidMsg) {
				h.sendMsg(errorMsg(0, ErrorCodeInvalidMsg, err))
				continue
			}
			if err != nil {
				h.disconnect(errors.New("receiving message failed").Wrap(err))
				return
			}

			select {
			case h.receiveChan <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (h *handler) handleMessage(ctx context.Context, msg Msg, responder ResponseSender) error {
	switch msg.Type {
	case MsgTypePing:
		return h.Handler.HandlePing(ctx, responder, msg)

	case MsgTypeViewerMove:
		return h.Handler.HandleViewerMove(ctx, responder, msg)

	default:
		responder.SendMsg(errorMsg(msg.RequestID, ErrorCodeUnknownMsgType, nil))
		return nil
	}
}

func (h *handler) disconnect(err error) {
	h.disconnectChan <- err
}

func (h *handler) handleDisconnect(err error) {
	h.Conn.Close()
	h.Handler.HandleDisconnect(err)
}

type responseSender struct {
	send    func(MsgType, uint32, any)
	sendMsg func(Msg)
}

func (r responseSender) Send(t MsgType, requestID uint32, data any) {
	r.send(t, requestID, data)
}

func (r responseSender) SendMsg(msg Msg) {
	r.sendMsg(msg)
}

func errorMsg(requestID uint32, code string, err error) Msg {
	data := ErrorResponse{Code: code}
	if err != nil {
		data.Message = err.Error()
	}

	msg, _ := NewMsg(MsgTypeError, requestID, data)
	return msg
}
