// Package check tallies named pass/fail predicates evaluated by virtual users.
//
// A failing check never aborts the user that evaluated it; it only moves the
// tally for its name.
package check

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Check is a named predicate over a value of type T.
type Check[T any] struct {
	Name string
	Fn   func(T) bool
}

// Result is the tally for one check name.
type Result struct {
	Name   string `json:"name"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

// Total returns the number of evaluations.
func (r Result) Total() int64 {
	return r.Passes + r.Fails
}

// Rate returns the fraction of evaluations that passed, or zero when the
// check never ran.
func (r Result) Rate() float64 {
	if r.Total() == 0 {
		return 0
	}
	return float64(r.Passes) / float64(r.Total())
}

type tally struct {
	passes atomic.Int64
	fails  atomic.Int64
}

// Registry holds one tally per check name. It is safe for concurrent use.
type Registry struct {
	tallies sync.Map // string -> *tally
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Record adds one evaluation of name and returns passed.
func (r *Registry) Record(name string, passed bool) bool {
	v, ok := r.tallies.Load(name)
	if !ok {
		v, _ = r.tallies.LoadOrStore(name, &tally{})
	}
	t := v.(*tally)
	if passed {
		t.passes.Add(1)
	} else {
		t.fails.Add(1)
	}
	return passed
}

// Evaluate runs every check against value, records each outcome, and reports
// whether all of them passed. All checks run even after one fails.
func Evaluate[T any](r *Registry, value T, checks ...Check[T]) bool {
	all := true
	for _, c := range checks {
		if !r.Record(c.Name, c.Fn(value)) {
			all = false
		}
	}
	return all
}

// Get returns the tally for name.
func (r *Registry) Get(name string) (Result, bool) {
	v, ok := r.tallies.Load(name)
	if !ok {
		return Result{Name: name}, false
	}
	t := v.(*tally)
	return Result{Name: name, Passes: t.passes.Load(), Fails: t.fails.Load()}, true
}

// Results returns every tally sorted by name.
func (r *Registry) Results() []Result {
	var results []Result
	r.tallies.Range(func(key, value any) bool {
		t := value.(*tally)
		results = append(results, Result{
			Name:   key.(string),
			Passes: t.passes.Load(),
			Fails:  t.fails.Load(),
		})
		return true
	})

	sort.Slice(results, func(i, j int) bool {
		return results[i].Name < results[j].Name
	})
	return results
}

// Totals returns the combined tally over every name.
func (r *Registry) Totals() Result {
	total := Result{Name: "checks"}
	for _, res := range r.Results() {
		total.Passes += res.Passes
		total.Fails += res.Fails
	}
	return total
}
