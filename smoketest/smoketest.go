package smoketest

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	httpcmn "github.com/aukilabs/lodtree/http"
	lodws "github.com/aukilabs/lodtree/websocket"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"

	defaultTimeout = 10 * time.Second
)

// Request is the body of a smoke test request.
type Request struct {
	// The viewer endpoint to test.
	Endpoint string `json:"endpoint"`

	// The time allowed to receive the first chunk.
	Timeout time.Duration `json:"timeout"`
}

// Results describes the outcome of a smoke test.
type Results struct {
	FromEndpoint    string  `json:"from_endpoint"`
	ToEndpoint      string  `json:"to_endpoint"`
	LatencyMilliSec float64 `json:"latency_ms"`
	Status          string  `json:"status"`
}

type Options struct {
	Endpoint   string
	UserAgent  string
	SendResult func(context.Context, Results) error
}

type testCtxKey string

var testCtxKeyValue testCtxKey = "test-context"

type testContext struct {
	context.Context
	Cancel func()
}

func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			logs.Warn(errors.New("reading body failed").Wrap(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var req Request
		if err := json.Unmarshal(b, &req); err != nil || req.Endpoint == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		go func() {
			defer func() {
				// if context is of testContext
				// cancel context on exit to signal function exited
				// this is used for testing
				if tctx := ctx.Value(testCtxKeyValue); tctx != nil {
					testCtx := tctx.(testContext)
					if testCtx.Cancel != nil {
						testCtx.Cancel()
					}
				}
			}()

			res := Results{
				FromEndpoint: opts.Endpoint,
				ToEndpoint:   req.Endpoint,
				Status:       StatusSuccess,
			}

			latency, err := run(ctx, opts.UserAgent, req)
			if err != nil {
				logs.WithTag("to_endpoint", req.Endpoint).
					Warn(errors.New("smoke test failed").Wrap(err))
				res.Status = StatusFailed
			} else {
				res.LatencyMilliSec = float64(latency.Microseconds()) / 1000
			}

			if err := opts.SendResult(ctx, res); err != nil {
				logs.WithTag("from_endpoint", opts.Endpoint).
					WithTag("to_endpoint", req.Endpoint).
					Warn(errors.New("sending smoke test result failed").Wrap(err))
			}
		}()

		w.WriteHeader(http.StatusOK)
	}
}

// run joins a world at the endpoint and returns the time it took to receive
// the first chunk event.
func run(ctx context.Context, userAgent string, req Request) (time.Duration, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint, err := websocketURL(req.Endpoint)
	if err != nil {
		return 0, err
	}

	config, err := websocket.NewConfig(endpoint, req.Endpoint)
	if err != nil {
		return 0, errors.New("creating websocket config failed").Wrap(err)
	}
	config.Header.Set("User-Agent", userAgent)
	config.Header.Set(httpcmn.HeaderClientID, uuid.NewString())

	conn, err := config.DialContext(ctx)
	if err != nil {
		return 0, errors.New("dialing endpoint failed").Wrap(err)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return 0, errors.New("setting connection deadline failed").Wrap(err)
	}

	start := time.Now()

	msg, err := lodws.NewMsg(lodws.MsgTypeViewerMove, 1, lodws.ViewerMove{})
	if err != nil {
		return 0, err
	}
	if _, err := lodws.SendMsg(conn, msg); err != nil {
		return 0, errors.New("sending viewer move failed").Wrap(err)
	}

	for {
		msg, _, err := lodws.ReceiveMsg(conn)
		if err != nil {
			return 0, errors.New("receiving message failed").Wrap(err)
		}

		switch msg.Type {
		case lodws.MsgTypeChunkEvent:
			return time.Since(start), nil

		case lodws.MsgTypeError:
			var res lodws.ErrorResponse
			msg.DataTo(&res)
			return 0, errors.New("endpoint returned an error").
				WithTag("code", res.Code).
				WithTag("message", res.Message)
		}
	}
}

func websocketURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.New("parsing endpoint failed").
			WithTag("endpoint", endpoint).
			Wrap(err)
	}

	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}
