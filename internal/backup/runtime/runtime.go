// Package runtime runs a one-shot backup command in a process, a container
// or a Kubernetes Job.
package runtime

import (
	"context"
	"fmt"
	"io"
)

// Runtime starts one-shot commands.
type Runtime interface {
	// Name is the configured runtime kind: exec, docker or kubernetes.
	Name() string

	// Start launches the command and returns a handle to it.
	Start(ctx context.Context, opts StartOptions) (Handle, error)
}

// StartOptions describes the command to run.
type StartOptions struct {
	// Name labels the run, e.g. the scheduled task name.
	Name    string
	Image   string
	Command []string
	Env     map[string]string
}

// ExitResult is how a run ended.
type ExitResult struct {
	ExitCode int
	Error    error
}

// Handle is a started run.
type Handle interface {
	// Wait blocks until the run ends or ctx is done.
	Wait(ctx context.Context) (ExitResult, error)

	// Stop terminates the run.
	Stop(ctx context.Context) error

	// Logs returns the combined output of the run. Call it after Wait.
	Logs(ctx context.Context) (io.ReadCloser, error)
}

// Kind names a runtime implementation.
const (
	KindExec       = "exec"
	KindDocker     = "docker"
	KindKubernetes = "kubernetes"
)

// Config selects and configures a runtime.
type Config struct {
	Kind       string
	WorkDir    string
	Kubernetes KubernetesConfig
}

// New builds the runtime named by cfg.Kind.
func New(cfg Config) (Runtime, error) {
	switch cfg.Kind {
	case "", KindExec:
		return NewExecRuntime(cfg.WorkDir), nil
	case KindDocker:
		return NewDockerRuntime()
	case KindKubernetes:
		return NewKubernetesRuntime(cfg.Kubernetes)
	default:
		return nil, fmt.Errorf("unknown backup runtime %q", cfg.Kind)
	}
}
