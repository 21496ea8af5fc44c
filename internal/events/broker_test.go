package events

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDropsForSlowSubscribers(t *testing.T) {
	b := NewBroker()
	id, ch := b.Subscribe()
	assert.Equal(t, 1, b.ClientCount())

	for i := 0; i < subscriberBufSize+10; i++ {
		b.Publish(Event{Kind: "progress", Payload: "{}"})
	}
	assert.Len(t, ch, subscriberBufSize)

	b.Unsubscribe(id)
	b.Unsubscribe(id)
	assert.Zero(t, b.ClientCount())
}

func TestSSEHandlerFiltersKinds(t *testing.T) {
	b := NewBroker()
	srv := httptest.NewServer(SSEHandler(b))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?kinds=status", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	b.Publish(Event{Kind: "progress", Payload: `{"current":1}`})
	b.PublishJSON("status", map[string]string{"level": "success"})

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: status\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, `data: {"level":"success"}`))
}
