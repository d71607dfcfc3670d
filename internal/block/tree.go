package block

// Walk visits every block depth-first in document order. Returning false
// from fn skips the block's children.
func Walk(blocks []*Block, fn func(b *Block) bool) {
	for _, b := range blocks {
		if b == nil {
			continue
		}
		if fn(b) {
			Walk(b.Children, fn)
		}
	}
}

// Index maps normalized ids to blocks. When the same id appears more than
// once (a synced subtree attached twice), the first occurrence wins.
func Index(blocks []*Block) map[string]*Block {
	idx := make(map[string]*Block)
	Walk(blocks, func(b *Block) bool {
		key := NormalizeID(b.ID)
		if _, ok := idx[key]; !ok {
			idx[key] = b
		}
		return true
	})
	return idx
}

// Find returns the first block with the given id, or nil.
func Find(blocks []*Block, id string) *Block {
	var found *Block
	key := NormalizeID(id)
	Walk(blocks, func(b *Block) bool {
		if found != nil {
			return false
		}
		if NormalizeID(b.ID) == key {
			found = b
			return false
		}
		return true
	})
	return found
}

// CountTypes counts blocks per type.
func CountTypes(blocks []*Block, types ...string) map[string]int {
	want := make(map[string]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	counts := make(map[string]int)
	Walk(blocks, func(b *Block) bool {
		if len(want) == 0 || want[b.Type] {
			counts[b.Type]++
		}
		return true
	})
	return counts
}
