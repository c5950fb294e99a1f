package backup

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"docflow/internal/backup/runtime"
	"docflow/internal/store"
)

type mockHandle struct {
	result  runtime.ExitResult
	waitErr error
	block   bool
	output  string
	stopped bool
}

func (h *mockHandle) Wait(ctx context.Context) (runtime.ExitResult, error) {
	if h.block {
		<-ctx.Done()
		return runtime.ExitResult{ExitCode: -1}, ctx.Err()
	}
	return h.result, h.waitErr
}

func (h *mockHandle) Stop(ctx context.Context) error {
	h.stopped = true
	return nil
}

func (h *mockHandle) Logs(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(h.output)), nil
}

type mockRuntime struct {
	handle   *mockHandle
	startErr error
	got      runtime.StartOptions
}

func (m *mockRuntime) Name() string { return "mock" }

func (m *mockRuntime) Start(ctx context.Context, opts runtime.StartOptions) (runtime.Handle, error) {
	m.got = opts
	if m.startErr != nil {
		return nil, m.startErr
	}
	return m.handle, nil
}

var task = store.ScheduledTask{Name: "database-backup", JobType: store.JobTypeBackup}

func TestHandle_Success(t *testing.T) {
	rt := &mockRuntime{handle: &mockHandle{output: "pg_dump: dumping contents\ndone\n"}}
	r := NewRunner(rt, Config{Image: "postgres:16", Command: []string{"pg_dump", "-Fc"}, Env: map[string]string{"PGHOST": "db"}}, nil)

	res, err := r.Handle(context.Background(), task)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if res.Backup == nil || res.Backup.Runtime != "mock" || res.Backup.ExitCode != 0 {
		t.Fatalf("result = %+v", res)
	}
	if res.Backup.Output != "pg_dump: dumping contents\ndone" {
		t.Errorf("output = %q", res.Backup.Output)
	}
	if rt.got.Name != "database-backup" || rt.got.Image != "postgres:16" || rt.got.Env["PGHOST"] != "db" {
		t.Errorf("start options = %+v", rt.got)
	}
}

func TestHandle_NonZeroExit(t *testing.T) {
	rt := &mockRuntime{handle: &mockHandle{result: runtime.ExitResult{ExitCode: 1}, output: "connection refused"}}
	r := NewRunner(rt, Config{Command: []string{"pg_dump"}}, nil)

	_, err := r.Handle(context.Background(), task)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "code 1") || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("error = %v", err)
	}
}

func TestHandle_OutputTail(t *testing.T) {
	rt := &mockRuntime{handle: &mockHandle{output: strings.Repeat("x", 100) + "END"}}
	r := NewRunner(rt, Config{Command: []string{"pg_dump"}, OutputTail: 10}, nil)

	res, err := r.Handle(context.Background(), task)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if res.Backup.Output != "xxxxxxxEND" {
		t.Errorf("output = %q", res.Backup.Output)
	}
}

func TestHandle_Timeout(t *testing.T) {
	h := &mockHandle{block: true}
	r := NewRunner(&mockRuntime{handle: h}, Config{Command: []string{"pg_dump"}, Timeout: 20 * time.Millisecond}, nil)

	_, err := r.Handle(context.Background(), task)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("error = %v, want timeout", err)
	}
	if !h.stopped {
		t.Error("expected the run to be stopped")
	}
}

func TestHandle_StartAndConfigErrors(t *testing.T) {
	r := NewRunner(&mockRuntime{}, Config{}, nil)
	if _, err := r.Handle(context.Background(), task); err == nil {
		t.Error("expected error without a command")
	}

	r = NewRunner(&mockRuntime{startErr: errors.New("docker daemon unavailable")}, Config{Command: []string{"pg_dump"}}, nil)
	if _, err := r.Handle(context.Background(), task); err == nil || !strings.Contains(err.Error(), "docker daemon") {
		t.Errorf("error = %v", err)
	}
}

func TestHandle_ExecRuntime(t *testing.T) {
	r := NewRunner(runtime.NewExecRuntime(t.TempDir()), Config{Command: []string{"sh", "-c", "echo backup ok"}}, nil)

	res, err := r.Handle(context.Background(), task)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if res.Backup.Runtime != runtime.KindExec || res.Backup.Output != "backup ok" {
		t.Errorf("result = %+v", res.Backup)
	}
}
