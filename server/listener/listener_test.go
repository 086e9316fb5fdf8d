package listener

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func port(t *testing.T, lis net.Listener) int {
	t.Helper()
	return lis.Addr().(*net.TCPAddr).Port
}

func TestListenSharesPort(t *testing.T) {
	first, err := Listen(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	defer first.Close()

	addr := fmt.Sprintf("127.0.0.1:%d", port(t, first))
	second, err := Listen(context.Background(), addr)
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, port(t, first), port(t, second))
}

func TestListenFailsOnExclusiveBind(t *testing.T) {
	plain, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer plain.Close()

	_, err = Listen(context.Background(), plain.Addr().String())
	assert.Error(t, err)
}

func dup(t *testing.T, f *os.File) uintptr {
	t.Helper()
	fd, err := unix.Dup(int(f.Fd()))
	require.NoError(t, err)
	return uintptr(fd)
}

func TestFileRoundTrip(t *testing.T) {
	lis, err := Listen(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	f, err := File(lis)
	require.NoError(t, err)
	defer f.Close()

	inherited, err := FromFD(dup(t, f))
	require.NoError(t, err)
	defer inherited.Close()

	assert.Equal(t, lis.Addr().String(), inherited.Addr().String())
}

func TestFileRejectsNonTCP(t *testing.T) {
	lis, err := net.Listen("unix", filepath.Join(t.TempDir(), "test.socket"))
	require.NoError(t, err)
	defer lis.Close()

	_, err = File(lis)
	assert.Error(t, err)
}

func TestFromFDRejectsRegularFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "not-a-socket")
	require.NoError(t, err)
	defer f.Close()

	_, err = FromFD(dup(t, f))
	assert.Error(t, err)
}

func TestServe(t *testing.T) {
	lis, err := Listen(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, lis, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "ok")
		}))
	}()

	resp, err := http.Get(fmt.Sprintf("http://%s/", lis.Addr()))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))

	cancel()
	assert.NoError(t, <-done)
}

func TestServeReportsClosedListener(t *testing.T) {
	lis, err := Listen(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	lis.Close()

	assert.Error(t, Serve(context.Background(), lis, http.NotFoundHandler()))
}
