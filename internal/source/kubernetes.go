package source

import (
	"context"
	"fmt"
	"io"

	"github.com/therealutkarshpriyadarshi/nodewatch/internal/config"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// maxPodLogBytes bounds a single log read
const maxPodLogBytes = 16 * 1024 * 1024

// Kubernetes reads the log of the container running a node process
type Kubernetes struct {
	client    kubernetes.Interface
	namespace string
	pod       string
	selector  string
	container string
}

// NewKubernetes creates a Kubernetes backend from a kubeconfig, or from the
// in-cluster service account when no kubeconfig is set
func NewKubernetes(cfg *config.KubernetesConfig) (*Kubernetes, error) {
	var kubeConfig *rest.Config
	var err error

	if cfg.Kubeconfig != "" {
		kubeConfig, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
	} else {
		kubeConfig, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(kubeConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes clientset: %w", err)
	}

	return NewKubernetesWithClient(clientset, cfg), nil
}

// NewKubernetesWithClient creates a Kubernetes backend on an existing client
func NewKubernetesWithClient(client kubernetes.Interface, cfg *config.KubernetesConfig) *Kubernetes {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = metav1.NamespaceDefault
	}

	return &Kubernetes{
		client:    client,
		namespace: namespace,
		pod:       cfg.Pod,
		selector:  cfg.LabelSelector,
		container: cfg.Container,
	}
}

// Name implements Backend
func (k *Kubernetes) Name() string {
	return "kubernetes"
}

// Tail implements Backend
func (k *Kubernetes) Tail(ctx context.Context, n int) ([]string, error) {
	pod, err := k.resolvePod(ctx)
	if err != nil {
		return nil, err
	}

	tailLines := int64(n)
	opts := &corev1.PodLogOptions{
		Container: k.container,
		TailLines: &tailLines,
	}

	stream, err := k.client.CoreV1().Pods(k.namespace).GetLogs(pod, opts).Stream(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open log stream for pod %s: %w", pod, err)
	}
	defer stream.Close()

	data, err := io.ReadAll(io.LimitReader(stream, maxPodLogBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read logs of pod %s: %w", pod, err)
	}

	return SplitLines(string(data)), nil
}

// resolvePod returns the configured pod, or the first running pod matching
// the label selector
func (k *Kubernetes) resolvePod(ctx context.Context) (string, error) {
	if k.pod != "" {
		return k.pod, nil
	}

	pods, err := k.client.CoreV1().Pods(k.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: k.selector,
	})
	if err != nil {
		return "", fmt.Errorf("failed to list pods: %w", err)
	}

	for _, pod := range pods.Items {
		if pod.Status.Phase == corev1.PodRunning {
			return pod.Name, nil
		}
	}
	return "", fmt.Errorf("no running pod matches %q in namespace %s", k.selector, k.namespace)
}
