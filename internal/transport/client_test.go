package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestClient_SendStatusRequest_ParsesServerConfigPatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"capture": false, "sendIntervalMs": 30000}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, ApplicationID: "app-1", AgentVersion: "1.0.0"}, testLogger(), zerolog.Nop())

	resp := c.SendStatusRequest(context.Background(), nil)
	require.NotNil(t, resp)
	assert.False(t, resp.IsErroneous())
	require.NotNil(t, resp.ServerConfig)
	require.NotNil(t, resp.ServerConfig.Capture)
	assert.False(t, *resp.ServerConfig.Capture)
	require.NotNil(t, resp.ServerConfig.SendIntervalMs)
	assert.Equal(t, 30000, *resp.ServerConfig.SendIntervalMs)
}

func TestClient_SendBeaconRequest_ErroneousStatusFrom400(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/beacon", r.URL.Path)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, ApplicationID: "app-1"}, testLogger(), zerolog.Nop())

	resp := c.SendBeaconRequest(context.Background(), "203.0.113.5", []byte("et=18&pa=0"), nil)
	require.NotNil(t, resp)
	assert.True(t, resp.IsErroneous())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClient_SignsJWTWhenSecretConfigured(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, JWTSecret: []byte("shared-secret"), ApplicationID: "app-1"}, testLogger(), zerolog.Nop())

	_ = c.SendStatusRequest(context.Background(), nil)
	assert.Contains(t, gotAuth, "Bearer ")
}

func TestClient_NoAuthHeaderWithoutSecret(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, ApplicationID: "app-1"}, testLogger(), zerolog.Nop())

	_ = c.SendStatusRequest(context.Background(), nil)
	assert.Empty(t, gotAuth)
}
