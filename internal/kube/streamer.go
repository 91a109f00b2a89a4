package kube

import (
	"context"
	"io"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/hewlettpackard/woodchipper/internal/model"
)

// PodLogStreamer opens follow streams against the pod log subresource.
// Timestamps are requested so readers can track a resume cursor.
type PodLogStreamer struct {
	Client kubernetes.Interface
}

func (s PodLogStreamer) Open(ctx context.Context, target model.Target, since *time.Time) (io.ReadCloser, error) {
	opts := &corev1.PodLogOptions{
		Container:  target.Container,
		Follow:     true,
		Timestamps: true,
	}
	if since != nil {
		t := metav1.NewTime(*since)
		opts.SinceTime = &t
	}

	req := s.Client.CoreV1().Pods(target.Namespace).GetLogs(target.Pod, opts)
	return req.Stream(ctx)
}
