package align

import "sort"

type opTag uint8

const (
	opEqual opTag = iota
	opReplace
	opDelete
	opInsert
)

// opcode describes how a[i1:i2] relates to b[j1:j2].
type opcode struct {
	tag            opTag
	i1, i2, j1, j2 int
}

type matchBlock struct {
	a, b, size int
}

// matcher finds the longest contiguous matching runs between two
// string sequences. Every element participates in matching; there is
// no junk or popularity suppression, so repeated filler words still
// anchor alignments.
type matcher struct {
	a, b []string
	b2j  map[string][]int
}

func newMatcher(a, b []string) *matcher {
	m := &matcher{a: a, b: b, b2j: make(map[string][]int, len(b))}
	for j, s := range b {
		m.b2j[s] = append(m.b2j[s], j)
	}
	return m
}

// findLongestMatch returns the longest matching block within
// a[alo:ahi] and b[blo:bhi]. Ties prefer the earliest block in a,
// then the earliest in b.
func (m *matcher) findLongestMatch(alo, ahi, blo, bhi int) matchBlock {
	besti, bestj, bestsize := alo, blo, 0
	// runLen[j] is the length of the matching run ending at a[i-1], b[j].
	runLen := make(map[int]int)
	for i := alo; i < ahi; i++ {
		newRunLen := make(map[int]int)
		for _, j := range m.b2j[m.a[i]] {
			if j < blo {
				continue
			}
			if j >= bhi {
				break
			}
			k := runLen[j-1] + 1
			newRunLen[j] = k
			if k > bestsize {
				besti, bestj, bestsize = i-k+1, j-k+1, k
			}
		}
		runLen = newRunLen
	}
	return matchBlock{a: besti, b: bestj, size: bestsize}
}

// matchingBlocks returns all matching blocks in ascending order,
// terminated by the zero-size sentinel (len(a), len(b), 0). Adjacent
// blocks are coalesced.
func (m *matcher) matchingBlocks() []matchBlock {
	type region struct{ alo, ahi, blo, bhi int }
	queue := []region{{0, len(m.a), 0, len(m.b)}}
	var blocks []matchBlock
	for len(queue) > 0 {
		r := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		blk := m.findLongestMatch(r.alo, r.ahi, r.blo, r.bhi)
		if blk.size == 0 {
			continue
		}
		blocks = append(blocks, blk)
		if r.alo < blk.a && r.blo < blk.b {
			queue = append(queue, region{r.alo, blk.a, r.blo, blk.b})
		}
		if blk.a+blk.size < r.ahi && blk.b+blk.size < r.bhi {
			queue = append(queue, region{blk.a + blk.size, r.ahi, blk.b + blk.size, r.bhi})
		}
	}
	sort.Slice(blocks, func(i, j int) bool {
		if blocks[i].a != blocks[j].a {
			return blocks[i].a < blocks[j].a
		}
		return blocks[i].b < blocks[j].b
	})

	merged := blocks[:0]
	var cur matchBlock
	for _, blk := range blocks {
		if cur.size > 0 && cur.a+cur.size == blk.a && cur.b+cur.size == blk.b {
			cur.size += blk.size
			continue
		}
		if cur.size > 0 {
			merged = append(merged, cur)
		}
		cur = blk
	}
	if cur.size > 0 {
		merged = append(merged, cur)
	}
	return append(merged, matchBlock{a: len(m.a), b: len(m.b), size: 0})
}

// opcodes renders the matching blocks as a full edit script covering
// both sequences end to end.
func (m *matcher) opcodes() []opcode {
	var ops []opcode
	i, j := 0, 0
	for _, blk := range m.matchingBlocks() {
		switch {
		case i < blk.a && j < blk.b:
			ops = append(ops, opcode{opReplace, i, blk.a, j, blk.b})
		case i < blk.a:
			ops = append(ops, opcode{opDelete, i, blk.a, j, blk.b})
		case j < blk.b:
			ops = append(ops, opcode{opInsert, i, blk.a, j, blk.b})
		}
		i, j = blk.a+blk.size, blk.b+blk.size
		if blk.size > 0 {
			ops = append(ops, opcode{opEqual, blk.a, i, blk.b, j})
		}
	}
	return ops
}
