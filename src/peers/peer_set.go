package peers

import "sort"

// PeerSet is the immutable roster of node ids in the cluster, as handed out
// by the init message. Ids are kept sorted so every node derives the same
// positions from the same roster.
type PeerSet struct {
	IDs []string

	byID map[string]int
}

// NewPeerSet builds a set from the init roster. The input is copied and
// sorted.
func NewPeerSet(ids []string) *PeerSet {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	byID := make(map[string]int, len(sorted))
	for i, id := range sorted {
		byID[id] = i
	}

	return &PeerSet{
		IDs:  sorted,
		byID: byID,
	}
}

// Len returns the number of peers in the set.
func (ps *PeerSet) Len() int {
	return len(ps.IDs)
}

// Contains reports whether id belongs to the roster.
func (ps *PeerSet) Contains(id string) bool {
	_, ok := ps.byID[id]
	return ok
}

// Position returns the index of id in the sorted roster, or -1 when id is
// not a member.
func (ps *PeerSet) Position(id string) int {
	pos, ok := ps.byID[id]
	if !ok {
		return -1
	}
	return pos
}

// Others returns every id in the roster except self, in roster order.
func (ps *PeerSet) Others(self string) []string {
	res := []string{}
	for _, id := range ps.IDs {
		if id != self {
			res = append(res, id)
		}
	}
	return res
}

// StrideNeighbors computes a sparse partial-mesh neighbor list: every
// stride-th roster position starting at (own position + 1) % stride.
// Positions taken modulo the stride form classes; every class gossips to
// the whole next class, so the classes chain into a cycle that reaches the
// full roster within stride hops. Requires at least one node per class,
// hence the full-roster fallback when the cluster is smaller than the
// stride.
func (ps *PeerSet) StrideNeighbors(self string, stride int) []string {
	own := ps.Position(self)
	if own < 0 || stride < 2 || ps.Len() < stride {
		return ps.Others(self)
	}

	res := []string{}
	for i := (own + 1) % stride; i < len(ps.IDs); i += stride {
		if ps.IDs[i] != self {
			res = append(res, ps.IDs[i])
		}
	}
	return res
}
