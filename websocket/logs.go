package websocket

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/net/websocket"
)

const viewerIDTag = "viewer_id"

func HandlerWithLogs(h Handler, summaryInterval time.Duration) Handler {
	ctx, cancel := context.WithCancel(context.Background())

	handler := &handlerWithLogs{
		Handler:            h,
		summaryInterval:    summaryInterval,
		closeSummaryWorker: cancel,
		counter:            make(map[string]int),
	}

	go handler.startSummaryWorker(ctx)
	return handler
}

type handlerWithLogs struct {
	Handler

	originalRequest *http.Request

	summaryInterval    time.Duration
	closeSummaryWorker func()
	counterMutex       sync.Mutex
	counter            map[string]int

	viewerID atomic.Uint32
}

func (h *handlerWithLogs) HandleConnect(conn *websocket.Conn) {
	h.Handler.HandleConnect(conn)
	h.originalRequest = conn.Request()

	logs.WithClientID(h.GetClientID()).
		WithTag("http_headers", h.httpHeaders()).
		Info("new client is connected")
}

func (h *handlerWithLogs) HandleViewerMove(ctx context.Context, respond ResponseSender, msg Msg) error {
	joined := h.CurrentViewer() != nil

	if err := h.Handler.HandleViewerMove(ctx, respond, msg); err != nil {
		if !joined {
			logs.WithClientID(h.GetClientID()).
				WithTag("request_id", msg.RequestID).
				Warn(errors.New("viewer failed to join a world").Wrap(err))
		}
		return err
	}

	viewer := h.CurrentViewer()
	if joined || viewer == nil {
		return nil
	}

	h.viewerID.Store(viewer.ID)

	logs.WithClientID(h.GetClientID()).
		WithTag(viewerIDTag, h.viewerID.Load()).
		WithTag("position", viewer.Position()).
		WithTag("http_headers", h.httpHeaders()).
		Info("viewer joined a world")
	return nil
}

func (h *handlerWithLogs) HandleDisconnect(err error) {
	h.Handler.HandleDisconnect(err)

	entry := logs.WithClientID(h.GetClientID()).
		WithTag(viewerIDTag, h.viewerID.Load())
	if err != nil {
		entry = entry.WithTag("reason", err.Error())
	}
	entry.Info("client disconnected")
}

func (h *handlerWithLogs) Receiver() Receiver {
	receive := h.Handler.Receiver()

	return func() (Msg, int, error) {
		msg, n, err := receive()
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			logs.WithClientID(h.GetClientID()).
				WithTag(viewerIDTag, h.viewerID.Load()).
				Error(errors.New("receiving message failed").Wrap(err))
		} else if err == nil {
			logs.WithClientID(h.GetClientID()).
				WithTag(viewerIDTag, h.viewerID.Load()).
				WithTag("msg_type", msg.TypeString()).
				Debug("message received")
			h.incCounter(msg.TypeString())
		}
		return msg, n, err
	}
}

func (h *handlerWithLogs) Sender() Sender {
	sender := h.Handler.Sender()

	return func(msg Msg) (int, error) {
		msgType := msg.TypeString()

		n, err := sender(msg)
		if err != nil && !errors.Is(err, net.ErrClosed) {
			logs.WithClientID(h.GetClientID()).
				WithTag(viewerIDTag, h.viewerID.Load()).
				WithTag("msg_type", msgType).
				Error(errors.New("sending message failed").Wrap(err))
		} else if err == nil {
			logs.WithClientID(h.GetClientID()).
				WithTag(viewerIDTag, h.viewerID.Load()).
				WithTag("msg_type", msgType).
				Debug("message sent")
		}
		return n, err
	}
}

func (h *handlerWithLogs) Close() {
	h.Handler.Close()
	h.closeSummaryWorker()
	h.logSummary()
}

func (h *handlerWithLogs) httpHeaders() any {
	if h.originalRequest == nil {
		return nil
	}

	return struct {
		UserAgent     string `json:"user_agent,omitempty"`
		XForwardedFor string `json:"x_forwarded_for,omitempty"`
	}{
		UserAgent:     h.originalRequest.UserAgent(),
		XForwardedFor: h.originalRequest.Header.Get("X-Forwarded-For"),
	}
}

func (h *handlerWithLogs) startSummaryWorker(ctx context.Context) {
	ticker := time.NewTicker(h.summaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			h.logSummary()
		}
	}
}

func (h *handlerWithLogs) incCounter(msgType string) {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	h.counter[msgType]++
}

func (h *handlerWithLogs) logSummary() {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	if len(h.counter) == 0 {
		return
	}

	entry := logs.
		WithClientID(h.GetClientID()).
		WithTag(viewerIDTag, h.viewerID.Load()).
		WithTag("time_interval", h.summaryInterval)

	for k, v := range h.counter {
		entry = entry.WithTag(k, v)
		delete(h.counter, k)
	}

	entry.Info("inbound message summary")
}
