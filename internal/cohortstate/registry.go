package cohortstate

import (
	"fmt"

	"utxo-cohort-lab/internal/cohort"
)

// Cohort binds a definition to its state and its engine-produced series.
type Cohort struct {
	Def     cohort.Def
	State   *State
	Columns *Columns
	// Percentiles marks cohorts whose histogram-derived series are pushed every height.
	Percentiles bool
}

// ID returns the cohort's series prefix.
func (c *Cohort) ID() string { return c.Def.ID() }

// Registry is the keyed collection of engine-tracked cohorts, iterated in
// insertion order.
type Registry struct {
	byID  map[string]*Cohort
	order []*Cohort
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Cohort)}
}

// Add registers c. IDs must be unique.
func (r *Registry) Add(c *Cohort) error {
	id := c.ID()
	if _, ok := r.byID[id]; ok {
		return fmt.Errorf("cohort %s already registered", id)
	}
	r.byID[id] = c
	r.order = append(r.order, c)
	return nil
}

// Get returns the cohort with the given ID.
func (r *Registry) Get(id string) (*Cohort, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// MustGet returns the cohort with the given ID and panics if it is missing.
// Only used for IDs fixed by the taxonomy.
func (r *Registry) MustGet(id string) *Cohort {
	c, ok := r.byID[id]
	if !ok {
		panic(fmt.Sprintf("cohort %s not registered", id))
	}
	return c
}

// All returns every cohort in insertion order.
func (r *Registry) All() []*Cohort {
	return r.order
}

// Matching returns the cohorts for which pred holds.
func (r *Registry) Matching(pred func(*Cohort) bool) []*Cohort {
	var out []*Cohort
	for _, c := range r.order {
		if pred(c) {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of cohorts.
func (r *Registry) Len() int {
	return len(r.order)
}
