package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_StartAndShutdown(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := New(handler, "127.0.0.1:0", "", "")
	require.NoError(t, srv.Start())

	resp, err := http.Get("http://" + srv.Addr() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
}

func TestServer_BindError(t *testing.T) {
	first := New(http.NotFoundHandler(), "127.0.0.1:0", "", "")
	require.NoError(t, first.Start())
	defer first.Shutdown(context.Background())

	second := New(http.NotFoundHandler(), first.Addr(), "", "")
	assert.Error(t, second.Start())
}
