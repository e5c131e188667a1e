package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/jsonwire/internal/config"
	"github.com/muurk/jsonwire/internal/discovery"
	"github.com/muurk/jsonwire/internal/server"
)

func TestBuildDocuments(t *testing.T) {
	docs, err := buildDocuments("bob", "secret", []string{`{"type":"ping"}`})
	require.NoError(t, err)
	require.Len(t, docs, 2)

	var login map[string]string
	require.NoError(t, json.Unmarshal(docs[0], &login))
	assert.Equal(t, map[string]string{"type": "userLogin", "login": "bob", "password": "secret"}, login)
	assert.Equal(t, `{"type":"ping"}`, string(docs[1]))

	_, err = buildDocuments("", "", nil)
	assert.ErrorContains(t, err, "nothing to send")

	_, err = buildDocuments("", "", []string{`{"type":`})
	assert.ErrorContains(t, err, "document 1 is not valid JSON")
}

func TestApplyFlagsOnlyOverridesChangedFlags(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().IntVar(&port, "port", 6000, "")
	cmd.Flags().BoolVar(&enableWebSocket, "websocket", false, "")
	cmd.Flags().DurationVar(&receiveTimeout, "receive-timeout", 10*time.Second, "")
	require.NoError(t, cmd.Flags().Parse([]string{"--port", "7100", "--websocket"}))
	t.Cleanup(func() {
		port = 6000
		enableWebSocket = false
	})

	cfg := config.Default()
	cfg.Server.ReceiveTimeout = 3 * time.Second
	applyFlags(cmd, cfg)

	assert.Equal(t, 7100, cfg.Server.Port)
	assert.True(t, cfg.WebSocket.Enabled)
	assert.Equal(t, 3*time.Second, cfg.Server.ReceiveTimeout, "unset flag keeps the config value")
	assert.Equal(t, config.PresenceMemory, cfg.Presence.Backend)
}

func TestConnectionTable(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	status := &server.StatusResponse{Listeners: []server.ListenerStatus{
		{Name: "tcp", Connections: []server.ConnectionInfo{
			{ID: 1, Login: "bob", State: "ACTIVE", RemoteAddr: "10.0.0.2:5000", Created: now.Add(-90 * time.Second)},
			{ID: 3, State: "ACTIVE", RemoteAddr: "10.0.0.3:5001", Created: now},
		}},
		{Name: "websocket", Connections: []server.ConnectionInfo{
			{ID: 2, Login: "alice", State: "TIMEOUT", RemoteAddr: "10.0.0.4:5002", Created: now.Add(-time.Second)},
		}},
	}}

	table := connectionTable(status, now)
	require.Len(t, table.Rows, 3)
	assert.Equal(t, []string{"tcp", "1", "bob", "ACTIVE", "10.0.0.2:5000", "1m30s"}, table.Rows[0])
	assert.Equal(t, "-", table.Rows[1][2])
	assert.Equal(t, "websocket", table.Rows[2][0])

	assert.Empty(t, connectionTable(&server.StatusResponse{}, now).Rows)
}

func TestInstanceTable(t *testing.T) {
	table := instanceTable([]*discovery.Instance{{
		Name: "lab",
		IP:   "192.168.4.16",
		Port: 6000,
		Metadata: map[string]string{
			discovery.TxtVersion:  "1.2.0",
			discovery.TxtProtocol: "jsonwire/1",
		},
	}})

	require.Len(t, table.Rows, 1)
	assert.Equal(t, []string{"lab", "192.168.4.16:6000", "1.2.0", "jsonwire/1", ""}, table.Rows[0])

	table = instanceTable([]*discovery.Instance{{
		Name:     "future",
		IP:       "192.168.4.17",
		Port:     6000,
		Metadata: map[string]string{discovery.TxtProtocol: "jsonwire/2"},
	}})
	assert.Equal(t, "jsonwire/2 (incompatible)", table.Rows[0][3])
}

func TestFetchStatus(t *testing.T) {
	l, err := server.Listen(server.Config{ReceiveTimeout: time.Second, SendTimeout: time.Second}, "127.0.0.1:0")
	require.NoError(t, err)

	srv := httptest.NewServer(server.NewHTTPHandler(nil, nil, "", l))
	t.Cleanup(srv.Close)

	status, err := fetchStatus(context.Background(), srv.Client(), srv.URL+"/status")
	require.NoError(t, err)
	require.Len(t, status.Listeners, 1)
	assert.Equal(t, "tcp", status.Listeners[0].Name)
	assert.Zero(t, status.Listeners[0].Active)

	_, err = fetchStatus(context.Background(), srv.Client(), srv.URL+"/missing")
	assert.ErrorContains(t, err, "404")

	_, err = fetchStatus(context.Background(), http.DefaultClient, "http://127.0.0.1:1/status")
	assert.ErrorContains(t, err, "failed to fetch status")
}
