package evolution

import (
	"sort"
	"sync"

	"github.com/sessionbuddy/sessionbuddy/internal/fingerprint"
)

// exemplarsPerSubcategory caps how many recent fingerprints a subcategory
// keeps for the near-duplicate prefilter.
const exemplarsPerSubcategory = 5

// Subcategory is one learned grouping within a category.
type Subcategory struct {
	Name       string    `json:"name"`
	Category   Category  `json:"category"`
	Centroid   []float32 `json:"-"`
	Keywords   []string  `json:"keywords"`
	Count      int       `json:"count"`
	Confidence float64   `json:"confidence"`

	exemplars []fingerprint.Signature
}

// registry holds the current subcategories per category. Evolution replaces
// a category's entries wholesale; assignment reads and increments them.
type registry struct {
	mu    sync.Mutex
	byCat map[Category][]*Subcategory
}

func newRegistry() *registry {
	return &registry{byCat: map[Category][]*Subcategory{}}
}

// list returns the category's subcategories, name-sorted.
func (r *registry) list(cat Category) []*Subcategory {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := append([]*Subcategory(nil), r.byCat[cat]...)
	sort.Slice(subs, func(i, j int) bool { return subs[i].Name < subs[j].Name })
	return subs
}

// replace swaps the category's subcategories for the freshly clustered set.
func (r *registry) replace(cat Category, subs []*Subcategory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byCat[cat] = subs
}

// observe records that a memory was assigned to the subcategory, keeping its
// fingerprint as a prefilter exemplar.
func (r *registry) observe(cat Category, name string, sig fingerprint.Signature) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.byCat[cat] {
		if sub.Name == name {
			sub.Count++
			sub.exemplars = append(sub.exemplars, sig)
			if len(sub.exemplars) > exemplarsPerSubcategory {
				sub.exemplars = sub.exemplars[len(sub.exemplars)-exemplarsPerSubcategory:]
			}
			return
		}
	}
	// First sighting of this subcategory name.
	r.byCat[cat] = append(r.byCat[cat], &Subcategory{
		Name:      name,
		Category:  cat,
		Count:     1,
		exemplars: []fingerprint.Signature{sig},
	})
}
