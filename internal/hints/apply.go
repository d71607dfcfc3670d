package hints

import (
	"sync"

	"github.com/natikgadzhi/notion-mirror/internal/block"
)

// Registry remembers which button ids were already placed, so applying
// the same hints twice never yields two blocks for one button.
type Registry struct {
	mu   sync.Mutex
	seen map[string]bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{seen: make(map[string]bool)}
}

// Claim marks id as placed and reports whether it was new.
func (r *Registry) Claim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := block.NormalizeID(id)
	if r.seen[key] {
		return false
	}
	r.seen[key] = true
	return true
}

// Report counts what Apply changed.
type Report struct {
	ColumnGroups       int
	Images             int
	ButtonsRewritten   int
	ButtonsSynthesized int
}

// insertion is a synthetic block waiting to be spliced under parentKey.
type insertion struct {
	parentKey string
	block     *block.Block
}

// Apply decorates blocks with h and returns the resulting forest. Column
// and image hints are set in place; buttons are collected as a patch list
// first and spliced in a single pass afterwards.
func Apply(blocks []*block.Block, h Hints, reg *Registry) ([]*block.Block, Report) {
	var rep Report
	if reg == nil {
		reg = NewRegistry()
	}

	block.Walk(blocks, func(b *block.Block) bool {
		switch b.Type {
		case block.TypeColumnList:
			if ratios := ColumnRatios(b.Children, h.Columns); ratios != nil {
				b.ColumnRatios = ratios
				rep.ColumnGroups++
			}
		case block.TypeImage:
			if hint, ok := h.Images[block.NormalizeID(b.ID)]; ok {
				mergeImageHint(b, hint)
				rep.Images++
			}
		}
		return true
	})

	idx := block.Index(blocks)
	var patches []insertion
	for _, hint := range h.Buttons {
		key := block.NormalizeID(hint.ID)
		existing := idx[key]
		if existing != nil && existing.Type == block.TypeButton {
			reg.Claim(hint.ID)
			continue
		}
		if !reg.Claim(hint.ID) {
			continue
		}

		if existing != nil {
			if existing.Type == block.TypeUnsupported {
				existing.Type = block.TypeButton
				existing.Button = buttonOf(hint)
				rep.ButtonsRewritten++
			}
			continue
		}

		patches = append(patches, insertion{
			parentKey: block.NormalizeID(hint.ParentID),
			block: &block.Block{
				ID:        hint.ID,
				Type:      block.TypeButton,
				Button:    buttonOf(hint),
				Synthetic: true,
			},
		})
	}

	for _, p := range patches {
		if parent := idx[p.parentKey]; parent != nil && p.parentKey != "" {
			parent.Children = append(parent.Children, p.block)
			parent.HasChildren = true
		} else {
			blocks = append(blocks, p.block)
		}
		rep.ButtonsSynthesized++
	}

	return blocks, rep
}

// ColumnRatios normalizes the declared widths of a column group to sum to
// 1. Explicit ratios win, columns without one weigh 1. Without any ratio,
// pixel widths are used, columns without one taking the mean of the
// others. Without either, nil.
func ColumnRatios(columns []*block.Block, hints map[string]ColumnHint) []float64 {
	if len(columns) == 0 {
		return nil
	}

	declared := make([]ColumnHint, len(columns))
	anyRatio, anyWidth := false, false
	for i, c := range columns {
		declared[i] = hints[block.NormalizeID(c.ID)]
		anyRatio = anyRatio || declared[i].Ratio > 0
		anyWidth = anyWidth || declared[i].WidthPx > 0
	}

	weights := make([]float64, len(columns))
	switch {
	case anyRatio:
		for i, d := range declared {
			weights[i] = 1
			if d.Ratio > 0 {
				weights[i] = d.Ratio
			}
		}
	case anyWidth:
		var sum float64
		var known int
		for _, d := range declared {
			if d.WidthPx > 0 {
				sum += d.WidthPx
				known++
			}
		}
		mean := sum / float64(known)
		for i, d := range declared {
			weights[i] = mean
			if d.WidthPx > 0 {
				weights[i] = d.WidthPx
			}
		}
	default:
		return nil
	}

	var total float64
	for _, w := range weights {
		total += w
	}
	for i := range weights {
		weights[i] /= total
	}
	return weights
}

// mergeImageHint fills the image metadata without overwriting set fields.
func mergeImageHint(b *block.Block, hint ImageHint) {
	if b.ImageMeta == nil {
		b.ImageMeta = &block.ImageMeta{}
	}
	if b.ImageMeta.MaxWidthPx == 0 {
		b.ImageMeta.MaxWidthPx = hint.MaxWidthPx
	}
	if b.ImageMeta.Align == "" {
		b.ImageMeta.Align = hint.Align
	}
}

func buttonOf(h ButtonHint) *block.Button {
	label := h.Label
	if label == "" {
		label = "Open"
	}
	return &block.Button{Label: label, URL: h.URL, Style: h.Style}
}
