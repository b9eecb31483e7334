package core

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestChunks(t *testing.T) {
	cases := []struct {
		in   []int
		size int
		want [][]int
	}{
		{[]int{1, 2, 3, 4, 5}, 2, [][]int{{1, 2}, {3, 4}, {5}}},
		{[]int{1, 2}, 5, [][]int{{1, 2}}},
		{[]int{1, 2, 3}, 0, [][]int{{1, 2, 3}}},
		{nil, 3, nil},
	}
	for _, c := range cases {
		if diff := cmp.Diff(c.want, chunks(c.in, c.size)); diff != "" {
			t.Fatalf("chunks(%v, %d) (-want +got):\n%s", c.in, c.size, diff)
		}
	}
}

func TestChunksDoNotAlias(t *testing.T) {
	in := []int{1, 2, 3, 4}
	out := chunks(in, 2)
	out[0] = append(out[0], 99)
	if in[2] != 3 {
		t.Fatalf("appending to a chunk overwrote the next one: %v", in)
	}
}
