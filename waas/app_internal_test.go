package waas

import (
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

type closeCounter struct{ closed int }

func (c *closeCounter) Close() error {
	c.closed++
	return nil
}

func TestApp_StartFailureClosesResources(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig("http://127.0.0.1:1")
	cfg.HTTP.Addr = busy.Addr().String()

	app := NewApp(slog.New(slog.NewTextHandler(io.Discard)), cfg)
	app.Recorder = NewMemoryRecorder()
	ledger := &closeCounter{}
	app.closers = append(app.closers, ledger)

	err = app.Start()
	require.ErrorContains(t, err, "listening tcp port")
	require.Equal(t, 1, ledger.closed)
	require.Empty(t, app.closers)

	// a later Shutdown does not close twice
	app.Shutdown()
	require.Equal(t, 1, ledger.closed)
}
