package resource

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"opswatch/pkg/config"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// CommandRunner runs an external command and returns its stdout
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

// NewExecRunner runs commands on the local host
func NewExecRunner() CommandRunner {
	return execRunner{}
}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, err
	}
	return exec.CommandContext(ctx, name, args...).Output()
}

// GPUStats aggregates all GPUs of the host
type GPUStats struct {
	Count         int
	MemoryTotalMB float64
	MemoryUsedMB  float64
}

// GPUProbe reports GPU usage; ok is false when no GPU data is available
type GPUProbe interface {
	GPU(ctx context.Context) (stats GPUStats, ok bool)
}

// NvidiaSMIProbe queries nvidia-smi
type NvidiaSMIProbe struct {
	runner CommandRunner
}

// NewNvidiaSMIProbe creates a GPU probe backed by nvidia-smi
func NewNvidiaSMIProbe(runner CommandRunner) *NvidiaSMIProbe {
	return &NvidiaSMIProbe{runner: runner}
}

func (p *NvidiaSMIProbe) GPU(ctx context.Context) (GPUStats, bool) {
	out, err := p.runner.Run(ctx, "nvidia-smi",
		"--query-gpu=memory.total,memory.used", "--format=csv,noheader,nounits")
	if err != nil {
		return GPUStats{}, false
	}
	stats, err := parseNvidiaSMI(out)
	if err != nil || stats.Count == 0 {
		return GPUStats{}, false
	}
	return stats, true
}

// parseNvidiaSMI parses "total, used" lines, one per GPU
func parseNvidiaSMI(out []byte) (GPUStats, error) {
	var stats GPUStats
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 2 {
			return GPUStats{}, fmt.Errorf("unexpected nvidia-smi line %q", line)
		}
		total, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
		if err != nil {
			return GPUStats{}, fmt.Errorf("parse gpu memory total: %w", err)
		}
		used, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			return GPUStats{}, fmt.Errorf("parse gpu memory used: %w", err)
		}
		stats.Count++
		stats.MemoryTotalMB += total
		stats.MemoryUsedMB += used
	}
	return stats, scanner.Err()
}

// ContainerProbe counts running platform containers; ok is false when unknown
type ContainerProbe interface {
	RunningContainers(ctx context.Context) (count int, ok bool)
}

// DockerProbe counts containers whose name matches a prefix
type DockerProbe struct {
	runner     CommandRunner
	namePrefix string
}

// NewDockerProbe creates a docker-backed container probe
func NewDockerProbe(runner CommandRunner, namePrefix string) *DockerProbe {
	return &DockerProbe{runner: runner, namePrefix: namePrefix}
}

func (p *DockerProbe) RunningContainers(ctx context.Context) (int, bool) {
	args := []string{"ps", "--format", "{{.ID}}"}
	if p.namePrefix != "" {
		args = append(args, "--filter", "name="+p.namePrefix)
	}
	out, err := p.runner.Run(ctx, "docker", args...)
	if err != nil {
		return 0, false
	}
	n := 0
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n, true
}

// KubernetesProbe counts running pods matching a label selector
type KubernetesProbe struct {
	client        kubernetes.Interface
	namespace     string
	labelSelector string
}

// NewKubernetesProbe creates a pod-counting probe on an existing clientset
func NewKubernetesProbe(client kubernetes.Interface, namespace, labelSelector string) *KubernetesProbe {
	return &KubernetesProbe{client: client, namespace: namespace, labelSelector: labelSelector}
}

func (p *KubernetesProbe) RunningContainers(ctx context.Context) (int, bool) {
	pods, err := p.client.CoreV1().Pods(p.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: p.labelSelector,
		FieldSelector: "status.phase=" + string(corev1.PodRunning),
	})
	if err != nil {
		return 0, false
	}
	n := 0
	for _, pod := range pods.Items {
		if pod.Status.Phase == corev1.PodRunning && pod.DeletionTimestamp == nil {
			n++
		}
	}
	return n, true
}

// NewContainerProbe builds the probe selected by cfg; nil when counting is disabled
func NewContainerProbe(cfg config.ContainerConfig, runner CommandRunner) (ContainerProbe, error) {
	switch cfg.Source {
	case "", "none":
		return nil, nil
	case "docker":
		return NewDockerProbe(runner, cfg.NamePrefix), nil
	case "kubernetes":
		client, err := newKubernetesClient(cfg.Kubeconfig)
		if err != nil {
			return nil, err
		}
		return NewKubernetesProbe(client, cfg.Namespace, cfg.LabelSelector), nil
	default:
		return nil, fmt.Errorf("unsupported container source %q (use docker, kubernetes or none)", cfg.Source)
	}
}

func newKubernetesClient(kubeconfig string) (kubernetes.Interface, error) {
	var restConfig *rest.Config
	var err error
	if kubeconfig != "" {
		restConfig, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		restConfig, err = rest.InClusterConfig()
		if err != nil {
			// If not in cluster, try to use kubeconfig
			loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
			kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{})
			restConfig, err = kubeConfig.ClientConfig()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kubernetes config: %w", err)
	}
	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return client, nil
}
