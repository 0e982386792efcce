package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/sync-keeper/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Host:           "127.0.0.1",
		Port:           0,
		Base:           filepath.Join(t.TempDir(), "base"),
		DB:             config.DB{Driver: "sqlite"},
		PasswordScheme: "argon2id",
		TokenMode:      "deterministic",
		LockMode:       "session",
		MaxPayloadMegs: 1,
		LogLevel:       "info",
	}
}

func TestRun_ServesAndShutsDown(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, zaptest.NewLogger(t), ready) }()

	addr := <-ready
	resp, err := http.Get("http://" + addr.String() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, "ok", string(body))

	_, err = os.Stat(cfg.AuthDBPath())
	require.NoError(t, err, "credential database is created in the base folder")

	cancel()
	require.NoError(t, <-done)
}

func TestRun_StartupFailures(t *testing.T) {
	cfg := testConfig(t)
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	cfg.Base = filepath.Join(file, "base")
	require.ErrorContains(t, run(context.Background(), cfg, zaptest.NewLogger(t), nil), "base folder")

	cfg = testConfig(t)
	cfg.PasswordScheme = "bcrypt"
	require.Error(t, run(context.Background(), cfg, zaptest.NewLogger(t), nil))
}

func TestIsRunningCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"is-running", "--host", "127.0.0.1", "--port", port})
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "running")

	require.NoError(t, ln.Close())
	cmd = newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"is-running", "--host", "127.0.0.1", "--port", port})
	require.ErrorIs(t, cmd.Execute(), errNotRunning)
}
