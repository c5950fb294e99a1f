package runtime

import (
	"context"
	"strings"
	"testing"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func newTestKubernetesRuntime(cfg KubernetesConfig) (*KubernetesRuntime, *fake.Clientset) {
	clientset := fake.NewClientset()
	rt := NewKubernetesRuntimeWithClient(clientset, cfg)
	rt.now = func() time.Time { return time.Unix(1760781600, 0) }
	return rt, clientset
}

func TestKubernetesStart_CreatesJob(t *testing.T) {
	rt, clientset := newTestKubernetesRuntime(KubernetesConfig{Namespace: "ops"})
	ctx := context.Background()

	h, err := rt.Start(ctx, StartOptions{
		Name:    "database-backup",
		Image:   "postgres:16",
		Command: []string{"pg_dump", "-Fc"},
		Env:     map[string]string{"PGHOST": "db"},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if h == nil {
		t.Fatal("expected handle")
	}

	jobs, err := clientset.BatchV1().Jobs("ops").List(ctx, metav1.ListOptions{})
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs.Items) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs.Items))
	}
	job := jobs.Items[0]

	if !strings.HasPrefix(job.Name, "docflow-database-backup-") {
		t.Errorf("unexpected job name %s", job.Name)
	}
	if job.Labels["app.kubernetes.io/managed-by"] != "docflow" {
		t.Error("expected managed-by label")
	}
	if *job.Spec.BackoffLimit != 0 {
		t.Errorf("backoff limit = %d, want 0", *job.Spec.BackoffLimit)
	}
	if *job.Spec.TTLSecondsAfterFinished != 3600 {
		t.Errorf("ttl = %d, want 3600", *job.Spec.TTLSecondsAfterFinished)
	}

	c := job.Spec.Template.Spec.Containers[0]
	if c.Image != "postgres:16" || len(c.Command) != 2 {
		t.Errorf("container = %+v", c)
	}
	if c.Resources.Limits.Cpu().String() != "500m" || c.Resources.Limits.Memory().String() != "256Mi" {
		t.Errorf("limits = %v", c.Resources.Limits)
	}
	if len(c.Env) != 1 || c.Env[0].Name != "PGHOST" || c.Env[0].Value != "db" {
		t.Errorf("env = %v", c.Env)
	}
}

func TestKubernetesStart_ServiceAccountAndLimits(t *testing.T) {
	rt, clientset := newTestKubernetesRuntime(KubernetesConfig{
		Namespace:      "ops",
		ServiceAccount: "backup-sa",
		CPULimit:       "1",
		MemoryLimit:    "512Mi",
	})
	ctx := context.Background()

	if _, err := rt.Start(ctx, StartOptions{Image: "postgres:16", Command: []string{"pg_dump"}}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	jobs, _ := clientset.BatchV1().Jobs("ops").List(ctx, metav1.ListOptions{})
	spec := jobs.Items[0].Spec.Template.Spec
	if spec.ServiceAccountName != "backup-sa" {
		t.Errorf("service account = %q", spec.ServiceAccountName)
	}
	if spec.Containers[0].Resources.Limits.Cpu().String() != "1" {
		t.Errorf("cpu limit = %s", spec.Containers[0].Resources.Limits.Cpu())
	}
}

func TestKubernetesStart_Validation(t *testing.T) {
	rt, _ := newTestKubernetesRuntime(KubernetesConfig{CPULimit: "lots"})

	if _, err := rt.Start(context.Background(), StartOptions{Command: []string{"pg_dump"}}); err == nil {
		t.Error("expected error without image")
	}
	if _, err := rt.Start(context.Background(), StartOptions{Image: "postgres:16"}); err == nil {
		t.Error("expected error for invalid cpu limit")
	}
}

func TestKubernetesStop_DeletesJob(t *testing.T) {
	clientset := fake.NewClientset(&batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: "docflow-backup-1", Namespace: "ops"},
	})
	rt := NewKubernetesRuntimeWithClient(clientset, KubernetesConfig{Namespace: "ops"})
	h := &KubernetesHandle{clientset: clientset, namespace: "ops", jobName: "docflow-backup-1", logger: rt.logger, poll: time.Millisecond}

	ctx := context.Background()
	if err := h.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	jobs, _ := clientset.BatchV1().Jobs("ops").List(ctx, metav1.ListOptions{})
	if len(jobs.Items) != 0 {
		t.Errorf("expected job deleted, %d remain", len(jobs.Items))
	}
}

func TestKubernetesWaitForPod(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "docflow-backup-1-abcde",
			Namespace: "ops",
			Labels:    map[string]string{"job-name": "docflow-backup-1"},
		},
	}
	h := &KubernetesHandle{clientset: fake.NewClientset(pod), namespace: "ops", jobName: "docflow-backup-1", poll: 10 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	name, err := h.waitForPod(ctx)
	if err != nil {
		t.Fatalf("waitForPod failed: %v", err)
	}
	if name != pod.Name {
		t.Errorf("pod = %s, want %s", name, pod.Name)
	}

	empty := &KubernetesHandle{clientset: fake.NewClientset(), namespace: "ops", jobName: "missing", poll: 10 * time.Millisecond}
	short, cancelShort := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelShort()
	if _, err := empty.waitForPod(short); err == nil {
		t.Error("expected timeout error")
	}
}

func TestPodResult(t *testing.T) {
	tests := []struct {
		name     string
		status   corev1.PodStatus
		wantDone bool
		wantCode int
		wantErr  bool
	}{
		{"running", corev1.PodStatus{Phase: corev1.PodRunning}, false, 0, false},
		{"succeeded", corev1.PodStatus{Phase: corev1.PodSucceeded}, true, 0, false},
		{"failed with code", corev1.PodStatus{
			Phase: corev1.PodFailed,
			ContainerStatuses: []corev1.ContainerStatus{{
				State: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{ExitCode: 2, Reason: "Error"}},
			}},
		}, true, 2, true},
		{"failed without status", corev1.PodStatus{Phase: corev1.PodFailed}, true, -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, done := podResult(&corev1.Pod{Status: tt.status})
			if done != tt.wantDone {
				t.Fatalf("done = %v, want %v", done, tt.wantDone)
			}
			if res.ExitCode != tt.wantCode {
				t.Errorf("exit code = %d, want %d", res.ExitCode, tt.wantCode)
			}
			if (res.Error != nil) != tt.wantErr {
				t.Errorf("error = %v, want error %v", res.Error, tt.wantErr)
			}
		})
	}
}

func TestJobName(t *testing.T) {
	at := time.Unix(100, 0)
	if got := jobName("log_cleanup", at); got != "docflow-log-cleanup-100" {
		t.Errorf("got %s", got)
	}
	if got := jobName("", at); got != "docflow-backup-100" {
		t.Errorf("got %s", got)
	}
}
