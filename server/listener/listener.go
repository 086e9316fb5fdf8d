// Package listener gives every worker process a listening socket on the shared
// port and serves HTTP on it.
//
// Two ways of sharing are supported. With SO_REUSEPORT each worker binds the
// port on its own and the kernel spreads incoming connections. With an
// inherited socket the supervisor binds once and every worker receives the same
// socket as file descriptor 3.
package listener

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// InheritedFD is the descriptor number of the socket passed to workers through
// exec.Cmd.ExtraFiles.
const InheritedFD = 3

// Listen binds addr with SO_REUSEPORT so that sibling processes can bind the
// same address.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}

	lis, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return lis, nil
}

// Inherited rebuilds the listener handed down by the supervisor.
func Inherited() (net.Listener, error) {
	return FromFD(InheritedFD)
}

// FromFD builds a listener from an already bound and listening descriptor.
func FromFD(fd uintptr) (net.Listener, error) {
	f := os.NewFile(fd, "inherited listener")
	if f == nil {
		return nil, errors.Errorf("invalid descriptor %d", fd)
	}
	defer f.Close()

	lis, err := net.FileListener(f)
	if err != nil {
		return nil, errors.Wrapf(err, "descriptor %d is not a listener", fd)
	}
	return lis, nil
}

// File duplicates the descriptor behind lis so it can be passed to a child
// process. The caller owns the returned file.
func File(lis net.Listener) (*os.File, error) {
	tcpLis, ok := lis.(*net.TCPListener)
	if !ok {
		return nil, errors.Errorf("cannot share a %T", lis)
	}
	return tcpLis.File()
}

// Serve runs handler on lis until the server fails, ctx is done or the
// process receives SIGINT/SIGTERM. Only a serve failure is an error.
func Serve(ctx context.Context, lis net.Listener, handler http.Handler) error {
	httpServer := &http.Server{
		Handler: handler,
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- httpServer.Serve(lis)
	}()

	select {
	case err := <-errChan:
		return errors.Wrap(err, "failed to serve")
	case s := <-signalChan:
		glog.Infof("Got signal: %s", s)
		return httpServer.Close()
	case <-ctx.Done():
		return httpServer.Close()
	}
}
