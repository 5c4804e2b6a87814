package graph

import (
	"strconv"
	"strings"
	"sync"
)

// IDGenerator hands out node ids of the form "<prefix>_<n>". It is owned by
// whoever creates graph elements, typically one per save request, and never
// returns an id it was told is taken.
type IDGenerator struct {
	mu     sync.Mutex
	prefix string
	next   int
	taken  map[string]struct{}
}

// NewIDGenerator creates a generator that skips the given existing ids.
func NewIDGenerator(prefix string, existing ...string) *IDGenerator {
	if prefix == "" {
		prefix = "node"
	}

	g := &IDGenerator{
		prefix: prefix,
		next:   1,
		taken:  make(map[string]struct{}, len(existing)),
	}

	for _, id := range existing {
		g.taken[id] = struct{}{}

		if n, ok := g.parse(id); ok && n >= g.next {
			g.next = n + 1
		}
	}

	return g
}

// Next returns a fresh id.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		id := g.prefix + "_" + strconv.Itoa(g.next)
		g.next++

		if _, used := g.taken[id]; !used {
			g.taken[id] = struct{}{}

			return id
		}
	}
}

func (g *IDGenerator) parse(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, g.prefix+"_")
	if !ok {
		return 0, false
	}

	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}

	return n, true
}
