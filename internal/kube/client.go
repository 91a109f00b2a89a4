package kube

import (
	"fmt"
	"os"
	"strings"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const serviceAccountNamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"

// NewClient builds a clientset from the in-cluster service account when
// running inside a pod, falling back to the kubeconfig resolved from
// KUBECONFIG or ~/.kube/config. It also returns the default namespace of
// whichever source was used.
func NewClient() (*kubernetes.Clientset, string, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		clientset, err := kubernetes.NewForConfig(cfg)
		if err != nil {
			return nil, "", fmt.Errorf("building in-cluster client: %w", err)
		}
		return clientset, inClusterNamespace(), nil
	}

	loader := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		clientcmd.NewDefaultClientConfigLoadingRules(),
		&clientcmd.ConfigOverrides{},
	)

	cfg, err := loader.ClientConfig()
	if err != nil {
		return nil, "", fmt.Errorf("loading kubeconfig: %w", err)
	}

	namespace, _, err := loader.Namespace()
	if err != nil || namespace == "" {
		namespace = "default"
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, "", fmt.Errorf("building client: %w", err)
	}
	return clientset, namespace, nil
}

func inClusterNamespace() string {
	data, err := os.ReadFile(serviceAccountNamespaceFile)
	if err != nil {
		return "default"
	}
	if ns := strings.TrimSpace(string(data)); ns != "" {
		return ns
	}
	return "default"
}
