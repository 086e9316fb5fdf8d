// Package config holds the settings shared by the supervisor and its workers.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/pkg/errors"

	"github.com/porpoises/clusterapp/server/compute"
)

// RoleEnv is the environment variable a process reads to learn its role. The
// supervisor sets it to RoleWorker for every process it forks.
const RoleEnv = "CLUSTER_ROLE"

// Role selects what a process does after startup.
type Role string

const (
	RoleSupervisor Role = "supervisor"
	RoleWorker     Role = "worker"
	RoleStandalone Role = "standalone"
)

// ResolveRole reads the role from the environment. An unset variable means
// supervisor, so the binary needs no arguments to start a cluster.
func ResolveRole(getenv func(string) string) (Role, error) {
	switch v := Role(getenv(RoleEnv)); v {
	case "", RoleSupervisor:
		return RoleSupervisor, nil
	case RoleWorker, RoleStandalone:
		return v, nil
	default:
		return "", fmt.Errorf("unknown %s %q", RoleEnv, v)
	}
}

// CurrentRole is ResolveRole against the process environment.
func CurrentRole() (Role, error) {
	return ResolveRole(os.Getenv)
}

// Share is how worker processes come to listen on the same port.
type Share string

const (
	// ShareReusePort has every worker bind the port with SO_REUSEPORT.
	ShareReusePort Share = "reuseport"
	// ShareInherit has the supervisor bind once and pass the socket down.
	ShareInherit Share = "inherit"
)

// Defaults.
const (
	DefaultPort         = 3000
	DefaultLimit uint64 = 5000000000
	DefaultAlarmCount   = 10
	DefaultAlarmWindow  = 5 * time.Second
	DefaultRespawnRetry = 100 * time.Millisecond
)

type Config struct {
	Port  int
	Limit uint64

	// Workers is the number of worker processes; 0 means one per CPU.
	Workers int
	Share   Share

	// BindDebug is the address of the pprof/trace listener. Empty disables it.
	BindDebug string

	AlarmCount   int
	AlarmWindow  time.Duration
	RespawnRetry time.Duration
}

func Default() Config {
	return Config{
		Port:         DefaultPort,
		Limit:        DefaultLimit,
		Share:        ShareReusePort,
		AlarmCount:   DefaultAlarmCount,
		AlarmWindow:  DefaultAlarmWindow,
		RespawnRetry: DefaultRespawnRetry,
	}
}

func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if err := compute.ValidateLimit(c.Limit); err != nil {
		return errors.Wrap(err, "invalid limit")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	switch c.Share {
	case ShareReusePort, ShareInherit:
	default:
		return fmt.Errorf("unknown share mode %q", c.Share)
	}
	if c.AlarmCount < 1 || c.AlarmWindow <= 0 {
		return errors.New("restart alarm needs a positive count and window")
	}
	if c.RespawnRetry <= 0 {
		return errors.New("respawn retry must be positive")
	}
	return nil
}

// ResolveWorkers returns the worker count with 0 replaced by the CPU count.
func (c Config) ResolveWorkers() int {
	if c.Workers == 0 {
		return runtime.NumCPU()
	}
	return c.Workers
}

// Addr is the shared listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
