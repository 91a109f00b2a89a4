package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/cache"

	"github.com/hewlettpackard/woodchipper/internal/model"
)

const eventBuffer = 64

type EventType int

const (
	Added EventType = iota
	Removed
)

func (t EventType) String() string {
	if t == Added {
		return "added"
	}
	return "removed"
}

// Event reports one membership change in the set of matching targets.
type Event struct {
	Type   EventType
	Target model.Target
}

// Resolver turns a namespace/label/pod-name selector into a live sequence
// of target add/remove events, backed by a shared pod informer. Watch
// failures are retried by the informer's reflector with its own capped
// backoff, so consumers only ever see membership changes.
type Resolver struct {
	client        kubernetes.Interface
	namespace     string
	labelSelector string
	podQuery      *regexp.Regexp

	mu     sync.Mutex
	seen   map[string]trackedContainer
	events chan Event
}

// trackedContainer remembers which incarnation of a container a target was
// emitted for. The container ID changes when the kubelet restarts the
// container inside the same pod, so a changed ID means the old log stream is
// gone and the target must be re-emitted.
type trackedContainer struct {
	target model.Target
	gen    string
}

// New validates the selector eagerly: a malformed label selector or pod
// query is a configuration error, not something to retry against.
func New(client kubernetes.Interface, namespace, labelSelector, podQuery string) (*Resolver, error) {
	if labelSelector != "" {
		if _, err := labels.Parse(labelSelector); err != nil {
			return nil, fmt.Errorf("invalid label selector %q: %w", labelSelector, err)
		}
	}

	var re *regexp.Regexp
	if podQuery != "" {
		var err error
		re, err = regexp.Compile(podQuery)
		if err != nil {
			return nil, fmt.Errorf("invalid pod query %q: %w", podQuery, err)
		}
	}

	return &Resolver{
		client:        client,
		namespace:     namespace,
		labelSelector: labelSelector,
		podQuery:      re,
		seen:          make(map[string]trackedContainer),
		events:        make(chan Event, eventBuffer),
	}, nil
}

// Run starts the pod informer and returns the event channel. The channel is
// never closed; consumers stop by observing ctx.
func (r *Resolver) Run(ctx context.Context) <-chan Event {
	factory := informers.NewSharedInformerFactoryWithOptions(
		r.client,
		0,
		informers.WithNamespace(r.namespace),
		informers.WithTweakListOptions(func(options *metav1.ListOptions) {
			if r.labelSelector != "" {
				options.LabelSelector = r.labelSelector
			}
		}),
	)

	informer := factory.Core().V1().Pods().Informer()
	informer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc: func(obj any) {
			r.syncPod(ctx, obj)
		},
		UpdateFunc: func(_, newObj any) {
			r.syncPod(ctx, newObj)
		},
		DeleteFunc: func(obj any) {
			r.dropPod(ctx, obj)
		},
	})

	factory.Start(ctx.Done())
	if !cache.WaitForCacheSync(ctx.Done(), informer.HasSynced) {
		slog.Warn("pod cache sync aborted", "namespace", r.namespace)
	}

	return r.events
}

func (r *Resolver) syncPod(ctx context.Context, obj any) {
	pod, ok := obj.(*corev1.Pod)
	if !ok {
		return
	}
	if r.podQuery != nil && !r.podQuery.MatchString(pod.Name) {
		return
	}

	current := startedContainers(pod)

	r.mu.Lock()
	pending := make([]Event, 0, len(current))
	for _, c := range current {
		key := c.target.Key()
		prev, ok := r.seen[key]
		if ok && prev.gen == c.gen {
			continue
		}
		r.seen[key] = c
		if ok {
			// Same pod, new container incarnation: retire the old stream
			// before announcing the new one.
			slog.Debug("target restarted", "target", c.target.String())
			pending = append(pending, Event{Type: Removed, Target: prev.target})
		} else {
			slog.Debug("target discovered", "target", c.target.String())
		}
		pending = append(pending, Event{Type: Added, Target: c.target})
	}
	r.mu.Unlock()

	for _, ev := range pending {
		r.emit(ctx, ev)
	}
}

func (r *Resolver) dropPod(ctx context.Context, obj any) {
	pod, ok := obj.(*corev1.Pod)
	if !ok {
		tombstone, ok := obj.(cache.DeletedFinalStateUnknown)
		if !ok {
			return
		}
		pod, _ = tombstone.Obj.(*corev1.Pod)
		if pod == nil {
			return
		}
	}

	r.mu.Lock()
	removed := make([]model.Target, 0, 1)
	for key, c := range r.seen {
		if c.target.UID == pod.UID {
			delete(r.seen, key)
			removed = append(removed, c.target)
		}
	}
	r.mu.Unlock()

	for _, target := range removed {
		slog.Debug("target gone", "target", target.String())
		r.emit(ctx, Event{Type: Removed, Target: target})
	}
}

func (r *Resolver) emit(ctx context.Context, ev Event) {
	select {
	case r.events <- ev:
	case <-ctx.Done():
	}
}

// startedContainers lists the containers of a pod that have been assigned a
// container ID, meaning the kubelet can serve logs for them. Init and
// ephemeral containers count too. The normalized ID doubles as the
// container's generation for restart detection.
func startedContainers(pod *corev1.Pod) []trackedContainer {
	var containers []trackedContainer
	appendTarget := func(status corev1.ContainerStatus) {
		gen := normalizeContainerID(status.ContainerID)
		if gen == "" {
			return
		}
		containers = append(containers, trackedContainer{
			target: model.Target{
				Namespace: pod.Namespace,
				Pod:       pod.Name,
				Container: status.Name,
				UID:       pod.UID,
			},
			gen: gen,
		})
	}

	for _, status := range pod.Status.InitContainerStatuses {
		appendTarget(status)
	}
	for _, status := range pod.Status.ContainerStatuses {
		appendTarget(status)
	}
	for _, status := range pod.Status.EphemeralContainerStatuses {
		appendTarget(status)
	}

	return containers
}

func normalizeContainerID(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "://")
	if len(parts) == 2 {
		return parts[1]
	}
	return raw
}
