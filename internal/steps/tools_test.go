package steps

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissingTools(t *testing.T) {
	missing := MissingTools(lookPath("npm"), RequiredTools...)
	require.Len(t, missing, 1)
	assert.Equal(t, "docker", missing[0].Name)
	assert.Contains(t, missing[0].Error(), "docker is required but not installed.")
	assert.Contains(t, missing[0].Error(), "https://docs.docker.com/get-docker/")

	assert.Empty(t, MissingTools(lookPath("npm", "docker"), RequiredTools...))
}

func TestErrToolUnavailable_Unknown(t *testing.T) {
	assert.Equal(t, "mytool is required but not installed.", NewErrToolUnavailable("mytool").Error())
}

func TestIsPortConflict(t *testing.T) {
	cases := map[string]bool{
		"docker: Error response from daemon: driver failed programming external connectivity: Bind for 0.0.0.0:3000 failed: port is already allocated.": true,
		"listen tcp4 0.0.0.0:3000: bind: address already in use":                                                                                      true,
		"Unable to find image 'reader-app:latest' locally":                                                                                            false,
		"": false,
	}
	for stderr, want := range cases {
		assert.Equal(t, want, isPortConflict([]byte(stderr)), stderr)
	}
}

func TestWaitReady(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ok.Close()
	assert.True(t, WaitReady(context.Background(), ok.URL, time.Second), "any non-5xx answer means the server is up")

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()
	assert.False(t, WaitReady(context.Background(), failing.URL, 300*time.Millisecond))
}
