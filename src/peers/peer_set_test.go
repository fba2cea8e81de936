package peers

import (
	"reflect"
	"testing"
)

func TestNewPeerSetSorts(t *testing.T) {
	ps := NewPeerSet([]string{"n3", "n1", "n2"})

	if !reflect.DeepEqual(ps.IDs, []string{"n1", "n2", "n3"}) {
		t.Fatalf("ids: %v", ps.IDs)
	}
	if ps.Len() != 3 {
		t.Fatalf("len: %d", ps.Len())
	}
	if !ps.Contains("n2") {
		t.Fatal("n2 should be a member")
	}
	if ps.Contains("n9") {
		t.Fatal("n9 should not be a member")
	}
	if pos := ps.Position("n3"); pos != 2 {
		t.Fatalf("position: %d", pos)
	}
	if pos := ps.Position("n9"); pos != -1 {
		t.Fatalf("position of non-member: %d", pos)
	}
}

func TestOthers(t *testing.T) {
	ps := NewPeerSet([]string{"n1", "n2", "n3"})

	others := ps.Others("n2")
	if !reflect.DeepEqual(others, []string{"n1", "n3"}) {
		t.Fatalf("others: %v", others)
	}
}

func TestStrideNeighbors(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	ps := NewPeerSet(ids)

	// position 0 with stride 4 starts at class 1: positions 1 and 5
	neighbors := ps.StrideNeighbors("a", 4)
	if !reflect.DeepEqual(neighbors, []string{"b", "f"}) {
		t.Fatalf("neighbors of a: %v", neighbors)
	}

	// position 3 starts at class (3+1)%4 = 0: positions 0 and 4
	neighbors = ps.StrideNeighbors("d", 4)
	if !reflect.DeepEqual(neighbors, []string{"a", "e"}) {
		t.Fatalf("neighbors of d: %v", neighbors)
	}
}

func TestStrideNeighborsConnectivity(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e", "f", "g"}
	ps := NewPeerSet(ids)
	stride := 3

	// Flood from one node over the stride graph; every node must be
	// reachable.
	reached := map[string]bool{"a": true}
	frontier := []string{"a"}
	for len(frontier) > 0 {
		next := []string{}
		for _, id := range frontier {
			for _, nb := range ps.StrideNeighbors(id, stride) {
				if !reached[nb] {
					reached[nb] = true
					next = append(next, nb)
				}
			}
		}
		frontier = next
	}

	if len(reached) != len(ids) {
		t.Fatalf("stride graph not connected: reached %v", reached)
	}
}

func TestStrideNeighborsSmallCluster(t *testing.T) {
	ps := NewPeerSet([]string{"n1", "n2", "n3"})

	// A cluster smaller than the stride falls back to the full roster.
	neighbors := ps.StrideNeighbors("n1", 4)
	if !reflect.DeepEqual(neighbors, []string{"n2", "n3"}) {
		t.Fatalf("neighbors: %v", neighbors)
	}

	// An unknown node gossips to everyone rather than nobody.
	neighbors = ps.StrideNeighbors("n9", 4)
	if !reflect.DeepEqual(neighbors, []string{"n1", "n2", "n3"}) {
		t.Fatalf("neighbors: %v", neighbors)
	}
}
