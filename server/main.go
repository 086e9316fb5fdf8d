package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"golang.org/x/net/trace"
	"net/http"
	_ "net/http/pprof"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/porpoises/clusterapp/server/config"
	"github.com/porpoises/clusterapp/server/handler"
	"github.com/porpoises/clusterapp/server/listener"
	"github.com/porpoises/clusterapp/server/worker"
)

var (
	port    = flag.Int("port", config.DefaultPort, "Port shared by all workers")
	limit   = flag.Uint64("limit", config.DefaultLimit, "Ceiling for n in /api/:n")
	workers = flag.Int("workers", 0, "Number of worker processes, 0 for one per CPU")
	share   = flag.String("share", string(config.ShareReusePort), "How workers share the port: reuseport or inherit")

	bindDebug = flag.String("bind_debug", "", "Bind for the debug listener, empty to disable")

	restartAlarmCount  = flag.Int("restart_alarm_count", config.DefaultAlarmCount, "Restarts within restart_alarm_window that are logged as a restart loop")
	restartAlarmWindow = flag.Duration("restart_alarm_window", config.DefaultAlarmWindow, "Window for restart_alarm_count")
	respawnRetry       = flag.Duration("respawn_retry", config.DefaultRespawnRetry, "Delay before retrying a failed replacement fork")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	role, err := config.CurrentRole()
	if err != nil {
		glog.Fatalf("failed to resolve role: %v", err)
	}

	cfg := config.Config{
		Port:    *port,
		Limit:   *limit,
		Workers: *workers,
		Share:   config.Share(*share),

		BindDebug: *bindDebug,

		AlarmCount:   *restartAlarmCount,
		AlarmWindow:  *restartAlarmWindow,
		RespawnRetry: *respawnRetry,
	}
	if err := cfg.Validate(); err != nil {
		glog.Fatalf("invalid configuration: %v", err)
	}

	switch role {
	case config.RoleSupervisor:
		runSupervisor(cfg)
	default:
		runWorker(cfg, role)
	}
}

func serveDebug(addr string) {
	if addr == "" {
		return
	}

	trace.AuthRequest = func(req *http.Request) (bool, bool) {
		return true, true
	}

	debugLis, err := net.Listen("tcp", addr)
	if err != nil {
		glog.Fatalf("failed to listen: %v", err)
	}
	glog.Infof("Debug listening on: %s", debugLis.Addr())

	go http.Serve(debugLis, nil)
}

func runSupervisor(cfg config.Config) {
	glog.Infof("Number of CPUs is %d", runtime.NumCPU())
	glog.Infof("Master %d is running", os.Getpid())

	serveDebug(cfg.BindDebug)

	workerOpts, err := worker.DefaultWorkerOptions()
	if err != nil {
		glog.Fatalf("failed to prepare workers: %v", err)
	}

	if cfg.Share == config.ShareInherit {
		lis, err := listener.Listen(context.Background(), cfg.Addr())
		if err != nil {
			glog.Fatalf("failed to listen: %v", err)
		}
		defer lis.Close()

		f, err := listener.File(lis)
		if err != nil {
			glog.Fatalf("failed to share listener: %v", err)
		}
		defer f.Close()

		workerOpts.Listener = f
		glog.Infof("Sharing listener on: %s", lis.Addr())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-signalChan
		glog.Infof("Got signal: %s", s)
		cancel()
	}()

	supervisor := worker.NewSupervisor(&worker.SupervisorOptions{
		Workers: cfg.ResolveWorkers(),
		Worker:  workerOpts,

		AlarmCount:   cfg.AlarmCount,
		AlarmWindow:  cfg.AlarmWindow,
		RespawnRetry: cfg.RespawnRetry,
	})

	if err := supervisor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		glog.Fatalf("supervisor failed: %v", err)
	}
	glog.Infof("Master %d stopped", os.Getpid())
}

func runWorker(cfg config.Config, role config.Role) {
	glog.Infof("Worker %d started", os.Getpid())

	// Forked workers share the supervisor's flags, so only a standalone
	// process may claim the debug address.
	if role == config.RoleStandalone {
		serveDebug(cfg.BindDebug)
	}

	var lis net.Listener
	var err error
	if role == config.RoleWorker && cfg.Share == config.ShareInherit {
		lis, err = listener.Inherited()
	} else {
		lis, err = listener.Listen(context.Background(), cfg.Addr())
	}
	if err != nil {
		glog.Fatalf("failed to listen: %v", err)
	}
	defer lis.Close()

	h, err := handler.New(cfg.Limit)
	if err != nil {
		glog.Fatalf("failed to create handler: %v", err)
	}

	glog.Infof("App listening on port %d", cfg.Port)
	if err := listener.Serve(context.Background(), lis, h); err != nil {
		glog.Fatalf("%v", err)
	}
}
