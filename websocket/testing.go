package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	httpcmn "github.com/aukilabs/lodtree/http"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

// Creates a testing environment to unit test handlers. The returned function
// dials a new viewer connection.
func NewTestingEnv(t *testing.T, newHandler func() Handler) (func() *websocket.Conn, func()) {
	var mutex sync.Mutex
	logger := t.Log

	logs.Encoder = func(v any) ([]byte, error) {
		return json.MarshalIndent(v, "", "  ")
	}

	logs.SetLogger(func(e logs.Entry) {
		mutex.Lock()
		defer mutex.Unlock()

		if logger != nil {
			logger(e)
		}
	})

	errors.Encoder = json.Marshal

	dial, close := newTestingEnv(t, newHandler)
	return dial, func() {
		mutex.Lock()
		defer mutex.Unlock()
		logger = nil
		close()
	}
}

func newTestingEnv(t *testing.T, newHandler func() Handler) (func() *websocket.Conn, func()) {
	server := httptest.NewServer(Server(context.Background(), httpcmn.VerifyClientID(false), newHandler))

	var mutex sync.Mutex
	var conns []*websocket.Conn

	dial := func() *websocket.Conn {
		config, err := websocket.NewConfig(
			strings.ReplaceAll(server.URL, "http://", "ws://"),
			"http://localhost",
		)
		if err != nil {
			t.Fatalf("error initializing web socket: %s", err)
		}

		config.Header.Set("User-Agent", "ted")
		config.Header.Set("X-Forwarded-For", "192.0.0.0")
		config.Header.Set(httpcmn.HeaderClientID, uuid.NewString())

		conn, err := websocket.DialConfig(config)
		if err != nil {
			t.Fatalf("error dialing web socket: %s", err)
		}

		mutex.Lock()
		conns = append(conns, conn)
		mutex.Unlock()
		return conn
	}

	return dial, func() {
		mutex.Lock()
		for _, c := range conns {
			c.Close()
		}
		mutex.Unlock()
		server.Close()
	}
}
