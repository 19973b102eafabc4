package cli

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wesleyorama2/volley/internal/target"
)

func TestListenAll(t *testing.T) {
	listeners, err := listenAll("127.0.0.1:0", "", "127.0.0.1:0")
	require.NoError(t, err)
	for _, l := range listeners {
		l.Close()
	}
	assert.Len(t, listeners, 1, "duplicate addresses share a listener")

	_, err = listenAll("", "")
	assert.Error(t, err)
}

func TestServeTarget(t *testing.T) {
	listeners, err := listenAll("127.0.0.1:0")
	require.NoError(t, err)
	addr := listeners[0].Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serveTarget(ctx, listeners, target.New(nil).Handler(), zap.NewNop())
	}()

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	assert.NoError(t, <-done)
}
