package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const managedBy = "docflow"

// KubernetesConfig configures the Kubernetes runtime.
type KubernetesConfig struct {
	Namespace      string
	ServiceAccount string
	CPULimit       string
	MemoryLimit    string
	// TTLAfterFinished is how long finished Jobs are kept before garbage collection.
	TTLAfterFinished time.Duration
}

func (c *KubernetesConfig) setDefaults() {
	if c.Namespace == "" {
		c.Namespace = "default"
	}
	if c.CPULimit == "" {
		c.CPULimit = "500m"
	}
	if c.MemoryLimit == "" {
		c.MemoryLimit = "256Mi"
	}
	if c.TTLAfterFinished == 0 {
		c.TTLAfterFinished = time.Hour
	}
}

// KubernetesRuntime runs commands as batch/v1 Jobs.
type KubernetesRuntime struct {
	clientset kubernetes.Interface
	config    KubernetesConfig
	logger    *slog.Logger
	now       func() time.Time
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return os.Getenv("USERPROFILE")
}

// NewKubernetesRuntime uses the in-cluster config, falling back to ~/.kube/config.
func NewKubernetesRuntime(cfg KubernetesConfig) (*KubernetesRuntime, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := filepath.Join(homeDir(), ".kube", "config")
		slog.Info("in-cluster config not available, using kubeconfig", "path", kubeconfig, "reason", err)
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}
	return NewKubernetesRuntimeWithClient(clientset, cfg), nil
}

// NewKubernetesRuntimeWithClient builds the runtime around an existing clientset.
func NewKubernetesRuntimeWithClient(clientset kubernetes.Interface, cfg KubernetesConfig) *KubernetesRuntime {
	cfg.setDefaults()
	return &KubernetesRuntime{
		clientset: clientset,
		config:    cfg,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

func (k *KubernetesRuntime) Name() string { return KindKubernetes }

func jobName(task string, at time.Time) string {
	name := strings.ToLower(strings.ReplaceAll(task, "_", "-"))
	if name == "" {
		name = "backup"
	}
	if len(name) > 40 {
		name = name[:40]
	}
	return fmt.Sprintf("docflow-%s-%d", name, at.Unix())
}

// Start creates a Job with a single container and no retries.
func (k *KubernetesRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if opts.Image == "" {
		return nil, fmt.Errorf("image is required")
	}

	name := jobName(opts.Name, k.now())

	var env []corev1.EnvVar
	for key, value := range opts.Env {
		env = append(env, corev1.EnvVar{Name: key, Value: value})
	}

	cpu, err := resource.ParseQuantity(k.config.CPULimit)
	if err != nil {
		return nil, fmt.Errorf("invalid cpu limit %q: %w", k.config.CPULimit, err)
	}
	mem, err := resource.ParseQuantity(k.config.MemoryLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid memory limit %q: %w", k.config.MemoryLimit, err)
	}

	backoffLimit := int32(0)
	ttl := int32(k.config.TTLAfterFinished / time.Second)
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: k.config.Namespace,
			Labels:    map[string]string{"app.kubernetes.io/managed-by": managedBy},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &backoffLimit,
			TTLSecondsAfterFinished: &ttl,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{
						"job-name":                     name,
						"app.kubernetes.io/managed-by": managedBy,
					},
				},
				Spec: corev1.PodSpec{
					RestartPolicy:      corev1.RestartPolicyNever,
					ServiceAccountName: k.config.ServiceAccount,
					Containers: []corev1.Container{{
						Name:    "backup",
						Image:   opts.Image,
						Command: opts.Command,
						Env:     env,
						Resources: corev1.ResourceRequirements{
							Limits: corev1.ResourceList{
								corev1.ResourceCPU:    cpu,
								corev1.ResourceMemory: mem,
							},
						},
					}},
				},
			},
		},
	}

	created, err := k.clientset.BatchV1().Jobs(k.config.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes job: %w", err)
	}
	k.logger.Info("kubernetes job created", "job", created.Name, "namespace", k.config.Namespace)

	return &KubernetesHandle{
		clientset: k.clientset,
		namespace: k.config.Namespace,
		jobName:   created.Name,
		logger:    k.logger,
		poll:      500 * time.Millisecond,
	}, nil
}

// KubernetesHandle is a created Job.
type KubernetesHandle struct {
	clientset kubernetes.Interface
	namespace string
	jobName   string
	podName   string
	logger    *slog.Logger
	poll      time.Duration
}

// Wait watches the Job's pod until it succeeds or fails.
func (h *KubernetesHandle) Wait(ctx context.Context) (ExitResult, error) {
	podName, err := h.waitForPod(ctx)
	if err != nil {
		return ExitResult{ExitCode: -1, Error: err}, err
	}
	h.podName = podName

	watcher, err := h.clientset.CoreV1().Pods(h.namespace).Watch(ctx, metav1.ListOptions{
		FieldSelector: "metadata.name=" + podName,
	})
	if err != nil {
		return ExitResult{ExitCode: -1, Error: err}, err
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
		case event, ok := <-watcher.ResultChan():
			if !ok {
				return ExitResult{ExitCode: -1, Error: fmt.Errorf("pod watch closed")}, fmt.Errorf("pod watch closed")
			}
			if event.Type == watch.Error {
				return ExitResult{ExitCode: -1, Error: fmt.Errorf("pod watch error")}, fmt.Errorf("pod watch error")
			}
			pod, ok := event.Object.(*corev1.Pod)
			if !ok {
				continue
			}
			if res, done := podResult(pod); done {
				return res, nil
			}
		}
	}
}

// podResult maps a terminal pod phase to an ExitResult.
func podResult(pod *corev1.Pod) (ExitResult, bool) {
	switch pod.Status.Phase {
	case corev1.PodSucceeded:
		return ExitResult{ExitCode: 0}, true
	case corev1.PodFailed:
		res := ExitResult{ExitCode: -1}
		if len(pod.Status.ContainerStatuses) > 0 {
			if term := pod.Status.ContainerStatuses[0].State.Terminated; term != nil {
				res.ExitCode = int(term.ExitCode)
				if term.Reason != "" {
					res.Error = fmt.Errorf("%s", term.Reason)
				}
			}
		}
		return res, true
	}
	return ExitResult{}, false
}

func (h *KubernetesHandle) waitForPod(ctx context.Context) (string, error) {
	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()

	for {
		pods, err := h.clientset.CoreV1().Pods(h.namespace).List(ctx, metav1.ListOptions{
			LabelSelector: "job-name=" + h.jobName,
		})
		if err != nil {
			return "", err
		}
		if len(pods.Items) > 0 {
			return pods.Items[0].Name, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop deletes the Job and its pods.
func (h *KubernetesHandle) Stop(ctx context.Context) error {
	propagation := metav1.DeletePropagationForeground
	err := h.clientset.BatchV1().Jobs(h.namespace).Delete(ctx, h.jobName, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", h.jobName, err)
	}
	h.logger.Info("kubernetes job deleted", "job", h.jobName)
	return nil
}

func (h *KubernetesHandle) Logs(ctx context.Context) (io.ReadCloser, error) {
	if h.podName == "" {
		podName, err := h.waitForPod(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to find pod for job %s: %w", h.jobName, err)
		}
		h.podName = podName
	}
	return h.clientset.CoreV1().Pods(h.namespace).GetLogs(h.podName, &corev1.PodLogOptions{Container: "backup"}).Stream(ctx)
}
