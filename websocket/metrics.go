package websocket

import (
	"context"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/websocket"
)

const (
	directionLabel      = "direction"
	errTypeLabel        = "error_type"
	msgTypeLabel        = "msg_type"
	publicEndpointLabel = "public_endpoint"
	resultLabel         = "result"

	directionReceived = "received"
	directionSent     = "sent"

	frameMsgType = "frame_pass"

	frameResultRun     = "run"
	frameResultSkipped = "skipped"
	frameResultFailed  = "failed"
)

var (
	wsConnectedViewers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ws_connected_viewers",
		Help: "The number of connected viewers.",
	}, []string{publicEndpointLabel})

	wsMsgs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_msgs",
		Help: "The number of messages exchanged with viewers.",
	}, []string{
		publicEndpointLabel,
		directionLabel,
		msgTypeLabel,
	})

	wsBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_bytes",
		Help: "The number of bytes exchanged with viewers.",
	}, []string{
		publicEndpointLabel,
		directionLabel,
		msgTypeLabel,
	})

	wsErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_errors",
		Help: "The errors that occured while exchanging messages with viewers.",
	}, []string{
		publicEndpointLabel,
		directionLabel,
		errTypeLabel,
	})

	wsMsgLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "ws_msg_latency",
		Help: "The time to process a viewer message or a world frame.",
	}, []string{
		publicEndpointLabel,
		msgTypeLabel,
	})

	wsFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_frames",
		Help: "The number of world frames by result.",
	}, []string{
		publicEndpointLabel,
		resultLabel,
	})
)

func HandlerWithMetrics(h Handler, publicEndpoint string) Handler {
	return &handlerWithMetrics{
		Handler:        h,
		publicEndpoint: publicEndpoint,
	}
}

type handlerWithMetrics struct {
	Handler

	publicEndpoint string
}

func (h *handlerWithMetrics) HandleConnect(conn *websocket.Conn) {
	wsConnectedViewers.WithLabelValues(h.publicEndpoint).Inc()
	h.Handler.HandleConnect(conn)
}

func (h *handlerWithMetrics) HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error {
	return h.measureLatency(msg.TypeString(), func() error {
		return h.Handler.HandlePing(ctx, respond, msg)
	})
}

func (h *handlerWithMetrics) HandleViewerMove(ctx context.Context, respond ResponseSender, msg Msg) error {
	return h.measureLatency(msg.TypeString(), func() error {
		return h.Handler.HandleViewerMove(ctx, respond, msg)
	})
}

func (h *handlerWithMetrics) HandleFrame(ctx context.Context, respond ResponseSender) error {
	err := h.measureLatency(frameMsgType, func() error {
		return h.Handler.HandleFrame(ctx, respond)
	})

	result := frameResultRun
	switch {
	case errors.IsType(err, ErrTypeMsgSkip):
		result = frameResultSkipped
	case err != nil:
		result = frameResultFailed
	}
	wsFrames.WithLabelValues(h.publicEndpoint, result).Inc()

	return err
}

func (h *handlerWithMetrics) HandleDisconnect(err error) {
	wsConnectedViewers.WithLabelValues(h.publicEndpoint).Dec()
	h.Handler.HandleDisconnect(err)
}

func (h *handlerWithMetrics) Receiver() Receiver {
	receive := h.Handler.Receiver()

	return func() (Msg, int, error) {
		msg, n, err := receive()
		h.count(directionReceived, msg.TypeString(), n, err)
		return msg, n, err
	}
}

func (h *handlerWithMetrics) Sender() Sender {
	send := h.Handler.Sender()

	return func(msg Msg) (int, error) {
		n, err := send(msg)
		h.count(directionSent, msg.TypeString(), n, err)
		return n, err
	}
}

func (h *handlerWithMetrics) count(direction, msgType string, n int, err error) {
	if err != nil {
		wsErrors.
			With(prometheus.Labels{
				publicEndpointLabel: h.publicEndpoint,
				directionLabel:      direction,
				errTypeLabel:        errors.Type(err),
			}).
			Inc()
	} else {
		wsMsgs.WithLabelValues(h.publicEndpoint, direction, msgType).Inc()
	}

	if n != 0 {
		wsBytes.
			WithLabelValues(h.publicEndpoint, direction, msgType).
			Add(float64(n))
	}
}

// measureLatency observes the time spent in f. Skipped messages and frames
// are not observed.
func (h *handlerWithMetrics) measureLatency(msgType string, f func() error) error {
	start := time.Now()

	err := f()
	if errors.IsType(err, ErrTypeMsgSkip) {
		return err
	}

	wsMsgLatency.
		WithLabelValues(h.publicEndpoint, msgType).
		Observe(time.Since(start).Seconds())
	return err
}
