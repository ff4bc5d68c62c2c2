package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/pushmirror/internal/credstore"
	"github.com/agentworkforce/pushmirror/internal/engine"
	"github.com/agentworkforce/pushmirror/internal/notify"
	"github.com/agentworkforce/pushmirror/internal/pushapi"
	"github.com/agentworkforce/pushmirror/internal/stream"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func credentialsFlag(t *testing.T) (string, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.json")
	return "--credentials", "file://" + path
}

type apiServer struct {
	mu      sync.Mutex
	deletes int
	tokens  []string
}

func newAPIServer(t *testing.T) (*apiServer, *httptest.Server) {
	t.Helper()
	api := &apiServer{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		api.tokens = append(api.tokens, r.Header.Get("Access-Token"))
		api.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v2/users/me":
			_, _ = w.Write([]byte(`{"iden":"ujuser","email":"me@example.com","name":"Me"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v2/pushes":
			_, _ = w.Write([]byte(`{"pushes":[{"type":"note","iden":"p1","modified":1700000000.5}]}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/v2/pushes":
			api.mu.Lock()
			api.deletes++
			api.mu.Unlock()
			_, _ = w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"not_found","message":"no route"}}`))
		}
	}))
	t.Cleanup(srv.Close)
	return api, srv
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "pushmirror dev\n", out)
}

func TestTokenAndE2EECommandsManageStore(t *testing.T) {
	flag, dsn := credentialsFlag(t)

	out, err := execute(t, "  o.abc123  \n", "token", "set", "--stdin", flag, dsn)
	require.NoError(t, err)
	assert.Contains(t, out, "saved")
	_, err = execute(t, "hunter2\n", "e2ee", "set", "--stdin", flag, dsn)
	require.NoError(t, err)

	store, err := credstore.Open(dsn)
	require.NoError(t, err)
	creds, err := credstore.Load(store, credstore.DefaultService)
	require.NoError(t, err)
	assert.Equal(t, credstore.Credentials{AccessToken: "o.abc123", E2EESecret: "hunter2"}, creds)

	_, err = execute(t, "", "e2ee", "clear", flag, dsn)
	require.NoError(t, err)
	_, err = execute(t, "", "token", "clear", flag, dsn)
	require.NoError(t, err)
	creds, err = credstore.Load(store, credstore.DefaultService)
	require.NoError(t, err)
	assert.Equal(t, credstore.Credentials{}, creds)
}

func TestTokenSetRejectsEmptyInput(t *testing.T) {
	flag, dsn := credentialsFlag(t)
	_, err := execute(t, "\n", "token", "set", "--stdin", flag, dsn)
	assert.Error(t, err)
}

func TestStatusCommand(t *testing.T) {
	_, srv := newAPIServer(t)
	t.Setenv("PUSHMIRROR_API_BASE_URL", srv.URL)
	flag, dsn := credentialsFlag(t)

	out, err := execute(t, "", "status", flag, dsn)
	require.NoError(t, err)
	assert.Equal(t, "access token: not set\ne2ee password: not set\n", out)

	_, err = execute(t, "o.abc\n", "token", "set", flag, dsn)
	require.NoError(t, err)
	out, err = execute(t, "", "status", flag, dsn)
	require.NoError(t, err)
	assert.Contains(t, out, "access token: set")
	assert.Contains(t, out, "account: me@example.com (ujuser)")
}

func TestHistoryClearCommand(t *testing.T) {
	api, srv := newAPIServer(t)
	t.Setenv("PUSHMIRROR_API_BASE_URL", srv.URL)
	flag, dsn := credentialsFlag(t)

	_, err := execute(t, "", "history", "clear", flag, dsn)
	require.Error(t, err)

	_, err = execute(t, "o.abc\n", "token", "set", flag, dsn)
	require.NoError(t, err)
	out, err := execute(t, "", "history", "clear", flag, dsn)
	require.NoError(t, err)
	assert.Contains(t, out, "push history cleared")

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, 1, api.deletes)
	assert.Equal(t, "o.abc", api.tokens[len(api.tokens)-1])
}

type blockingConn struct{}

func (blockingConn) Read(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingConn) Close() error { return nil }

func TestRunAgentAppliesWatchedCredentials(t *testing.T) {
	_, srv := newAPIServer(t)
	store, err := credstore.NewFileStore(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		urls  []string
		state []engine.Status
	)
	cfg := agentConfig{
		StreamURL:      "wss://stream.test/websocket/",
		RetryDelay:     time.Hour,
		RequestTimeout: 5 * time.Second,
		KeyCacheTTL:    time.Minute,
		Service:        credstore.DefaultService,
		Dial: func(ctx context.Context, url string) (stream.Conn, error) {
			mu.Lock()
			urls = append(urls, url)
			mu.Unlock()
			return blockingConn{}, nil
		},
	}
	opts := engine.Options{
		API:       pushapi.NewClient(srv.URL, srv.Client()),
		Presenter: notify.NewLogPresenter(nil),
		OnStatus: func(st engine.Status) {
			mu.Lock()
			state = append(state, st)
			mu.Unlock()
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runAgent(ctx, cfg, opts, store) }()

	require.Eventually(t, func() bool {
		_ = store.Set(credstore.DefaultService, credstore.KeyAccessToken, "o.watched")
		mu.Lock()
		defer mu.Unlock()
		for _, st := range state {
			if st.Connection == stream.Open {
				return true
			}
		}
		return false
	}, 3*time.Second, 50*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "wss://stream.test/websocket/o.watched", urls[0])
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatalf("runAgent did not stop")
	}
}

func TestRunAgentFailsOnBadControlAddr(t *testing.T) {
	cfg := agentConfig{
		RetryDelay:  time.Hour,
		ControlAddr: "256.0.0.1:-1",
		Service:     credstore.DefaultService,
	}
	opts := engine.Options{
		API:       pushapi.NewClient("http://127.0.0.1:1", nil),
		Presenter: notify.NewLogPresenter(nil),
	}
	err := runAgent(context.Background(), cfg, opts, credstore.NewMemoryStore())
	assert.Error(t, err)
}

func TestAgentControlReloadsCredentials(t *testing.T) {
	var reloads int
	ctrl := agentControl{reload: func() { reloads++ }}
	ctrl.ReloadCredentials()
	assert.Equal(t, 1, reloads)
}
