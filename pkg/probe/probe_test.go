package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPCheckerOnlineEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("framedata"))
	}))
	defer server.Close()

	res := NewHTTPChecker(server.URL).Check(context.Background())
	require.True(t, res.Online)
	require.Greater(t, res.Duration, time.Duration(0))
}

func TestHTTPCheckerErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	res := NewHTTPChecker(server.URL).Check(context.Background())
	require.False(t, res.Online)
}

func TestHTTPCheckerTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewHTTPChecker(server.URL)
	checker.Timeout = 10 * time.Millisecond
	res := checker.Check(context.Background())
	require.False(t, res.Online)
}

func TestTCPCheckerUnreachable(t *testing.T) {
	checker := NewTCPChecker("127.0.0.1:1")
	checker.Timeout = 200 * time.Millisecond
	res := checker.Check(context.Background())
	require.False(t, res.Online)
}

func TestForURLPicksCheckerByScheme(t *testing.T) {
	require.Equal(t, KindHTTP, ForURL("http://cam1/stream").Kind())
	require.Equal(t, KindHTTP, ForURL("https://cam1/stream.m3u8").Kind())
	require.Equal(t, KindTCP, ForURL("rtsp://cam1/live").Kind())
	require.Equal(t, KindTCP, ForURL("192.168.1.5:554").Kind())
}
