package vec

import (
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync/v4"
)

// Catalog indexes open vecs by series name. Safe for concurrent use, so
// reconciler workers can look up leaf series while the writer registers more.
type Catalog struct {
	vecs *xsync.Map[string, AnyVec]
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{vecs: xsync.NewMap[string, AnyVec]()}
}

// Register adds v. Registering a second vec under the same name is an error.
func (c *Catalog) Register(v AnyVec) error {
	if _, loaded := c.vecs.LoadOrStore(v.Name(), v); loaded {
		return fmt.Errorf("series %s already registered", v.Name())
	}
	return nil
}

// Get returns the vec registered under name.
func (c *Catalog) Get(name string) (AnyVec, bool) {
	return c.vecs.Load(name)
}

// Len returns the number of registered series.
func (c *Catalog) Len() int {
	return c.vecs.Size()
}

// Names returns every registered name in lexical order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, c.vecs.Size())
	c.vecs.Range(func(name string, _ AnyVec) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// All returns every registered vec ordered by name.
func (c *Catalog) All() []AnyVec {
	names := c.Names()
	out := make([]AnyVec, 0, len(names))
	for _, n := range names {
		if v, ok := c.vecs.Load(n); ok {
			out = append(out, v)
		}
	}
	return out
}

// Lookup returns the vec under name as *Vec[T].
func Lookup[T any](c *Catalog, name string) (*Vec[T], error) {
	v, ok := c.Get(name)
	if !ok {
		return nil, fmt.Errorf("series %s not registered", name)
	}
	typed, ok := v.(*Vec[T])
	if !ok {
		return nil, fmt.Errorf("series %s has type %T", name, v)
	}
	return typed, nil
}
