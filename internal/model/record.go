package model

import (
	"time"

	"k8s.io/apimachinery/pkg/types"
)

// Target identifies one loggable container instance. The pod UID keeps
// targets distinct across pods that reuse a name.
type Target struct {
	Namespace string    `json:"namespace"`
	Pod       string    `json:"pod"`
	Container string    `json:"container"`
	UID       types.UID `json:"uid"`
}

// Key is unique across all live targets and stable for the lifetime of the
// underlying container's pod.
func (t Target) Key() string {
	return string(t.UID) + "/" + t.Container
}

func (t Target) String() string {
	return t.Namespace + "/" + t.Pod + "/" + t.Container
}

// Record is one log line with its origin. Immutable once produced.
type Record struct {
	Target Target    `json:"target"`
	Time   time.Time `json:"time"`
	Line   string    `json:"line"`
}
