package websocket

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/stretchr/testify/require"
)

func TestHandlerWithLogsIncCounter(t *testing.T) {
	h := HandlerWithLogs(&RealtimeHandler{}, time.Second).(*handlerWithLogs)
	defer h.Close()

	h.incCounter("test")
	require.Equal(t, 1, h.counter["test"])
}

func TestHandlerWithLogsLogSummary(t *testing.T) {
	testClientID := "test-client"
	h := HandlerWithLogs(&RealtimeHandler{clientID: testClientID}, time.Second).(*handlerWithLogs)
	defer h.Close()

	h.viewerID.Store(42)
	h.incCounter("ping")
	h.incCounter("ping")
	h.incCounter("viewer_move")

	var b strings.Builder
	logs.SetInlineEncoder()
	logs.SetLogger(func(e logs.Entry) {
		fmt.Fprint(&b, e)
	})

	h.logSummary()
	require.Empty(t, h.counter)

	logString := b.String()
	clientIDTag := fmt.Sprintf(`"%s":"%s"`, logs.ClientIDTag, testClientID)
	require.Contains(t, logString, `"ping":2`)
	require.Contains(t, logString, `"viewer_move":1`)
	require.Contains(t, logString, `"viewer_id":42`)
	require.Contains(t, logString, clientIDTag)
	t.Log(b.String())
}

func TestHandlerWithLogsStartSummaryWorker(t *testing.T) {
	var wg sync.WaitGroup
	var once sync.Once

	var mutex sync.Mutex
	var b strings.Builder
	logs.SetInlineEncoder()
	logs.SetLogger(func(e logs.Entry) {
		mutex.Lock()
		defer mutex.Unlock()

		fmt.Fprint(&b, e)
		once.Do(wg.Done)
	})

	wg.Add(1)
	h := HandlerWithLogs(&RealtimeHandler{}, time.Millisecond).(*handlerWithLogs)
	defer h.Close()

	// No summary is logged while every counter is empty.
	h.incCounter("ping")

	wg.Wait()

	mutex.Lock()
	defer mutex.Unlock()
	out := b.String()
	require.NotEmpty(t, out)
	t.Log(out)
}
