// Package rc schedules per-station control loops: the device-delegated
// kernel mode and pluggable user-space algorithms resolved by name
// through an explicit registry. At most one control loop runs per
// station.
package rc

import (
	"fmt"
	"sync"

	"github.com/juju/errors"

	"github.com/wlansys/orcactl/ap"
)

// KernelAlgorithm is the built-in name for the device's own control
// loop. Starting it spawns no task; the station is put into automatic
// rate and power control mode instead.
const KernelAlgorithm = "minstrel_ht_kernel_space"

// Option keys understood by the kernel mode.
const (
	OptUpdateFreqHz = "update_freq_hz"
	OptSampleFreqHz = "sample_freq_hz"
)

// Algorithm is the pluggable control loop contract. Configure prepares
// the station (it may perform protocol I/O, e.g. switch to manual mode)
// and returns an opaque context stored on the task. Run executes the
// control loop until the task is stopped; returning a non-nil error
// tears the loop down.
type Algorithm interface {
	Configure(sta *ap.Station, opts ap.ControlOptions) (interface{}, error)
	Run(task *Task) error
}

// Pauser is the optional pause capability.
type Pauser interface {
	Pause(task *Task) error
}

// Resumer is the optional resume capability.
type Resumer interface {
	Resume(task *Task) error
}

// NotRegisteredError reports an algorithm name with no registered
// implementation.
type NotRegisteredError struct {
	Name string
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("control algorithm %q is not registered", e.Name)
}

// IsNotRegistered reports whether err (or its cause) names an unknown
// algorithm.
func IsNotRegistered(err error) bool {
	_, ok := errors.Cause(err).(*NotRegisteredError)
	return ok
}

// Registry maps algorithm names to implementations. Explicit instances
// only; there is no process-global registry.
type Registry struct {
	mu   sync.Mutex
	algs map[string]Algorithm
}

func NewRegistry() *Registry {
	return &Registry{algs: make(map[string]Algorithm)}
}

// Register binds a name. Re-registering replaces the previous
// implementation.
func (r *Registry) Register(name string, alg Algorithm) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.algs[name] = alg
}

// Resolve looks a name up.
func (r *Registry) Resolve(name string) (Algorithm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	alg, ok := r.algs[name]
	if !ok {
		return nil, &NotRegisteredError{Name: name}
	}
	return alg, nil
}

// Names lists registered algorithms.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.algs))
	for name := range r.algs {
		names = append(names, name)
	}
	return names
}
