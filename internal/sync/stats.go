package sync

import (
	"sort"
	"sync"
	"time"
)

// State is a step of the per-item state machine. States are only logged.
type State string

const (
	StateSkip               State = "skip"
	StateFetching           State = "fetching"
	StateMerging            State = "merging"
	StateMirroringMedia     State = "mirroring_media"
	StatePersistingChildren State = "persisting_children"
	StateCommitted          State = "committed"
	StateFailed             State = "failed"
)

// Fallback records an asset that kept its original URL.
type Fallback struct {
	Slug      string `json:"slug"`
	ParentID  string `json:"parentId"`
	BlockID   string `json:"blockId"`
	SourceURL string `json:"sourceUrl"`
	Reason    string `json:"reason"`
}

// Stats collects counters for one run. It is safe for concurrent use.
type Stats struct {
	mu          sync.Mutex
	processed   int
	synced      int
	skipped     int
	failed      int
	mirrored    int
	buttons     int
	fallbacks   []Fallback
	unsupported map[string]int
	missing     []string
}

func newStats() *Stats {
	return &Stats{unsupported: make(map[string]int)}
}

func (s *Stats) add(field *int, n int) {
	s.mu.Lock()
	*field += n
	s.mu.Unlock()
}

func (s *Stats) itemProcessed() { s.add(&s.processed, 1) }
func (s *Stats) itemSynced() { s.add(&s.synced, 1) }
func (s *Stats) itemSkipped() { s.add(&s.skipped, 1) }
func (s *Stats) itemFailed() { s.add(&s.failed, 1) }
func (s *Stats) mediaMirrored() { s.add(&s.mirrored, 1) }
func (s *Stats) buttonsSynthesized(n int) { s.add(&s.buttons, n) }

func (s *Stats) fallback(f Fallback) {
	s.mu.Lock()
	s.fallbacks = append(s.fallbacks, f)
	s.mu.Unlock()
}

func (s *Stats) missingBlock(id string) {
	s.mu.Lock()
	s.missing = append(s.missing, id)
	s.mu.Unlock()
}

func (s *Stats) unsupportedBlocks(counts map[string]int) {
	s.mu.Lock()
	for typ, n := range counts {
		s.unsupported[typ] += n
	}
	s.mu.Unlock()
}

// Summary is the machine-readable report of a run.
type Summary struct {
	RunID              string         `json:"runId"`
	Processed          int            `json:"processed"`
	Synced             int            `json:"synced"`
	Skipped            int            `json:"skipped"`
	Failed             int            `json:"failed"`
	MediaMirrored      int            `json:"mediaMirrored"`
	Fallbacks          int            `json:"fallbacks"`
	FallbackDetails    []Fallback     `json:"fallbackDetails,omitempty"`
	MissingBlocks      []string       `json:"missingBlocks"`
	Unsupported        map[string]int `json:"unsupported"`
	ButtonsSynthesized int            `json:"buttonsSynthesized"`
	ElapsedMs          int64          `json:"elapsedMs"`
}

// Summary snapshots the counters.
func (s *Stats) Summary(runID string, elapsed time.Duration) *Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	missing := append([]string{}, s.missing...)
	sort.Strings(missing)
	unsupported := make(map[string]int, len(s.unsupported))
	for k, v := range s.unsupported {
		unsupported[k] = v
	}

	return &Summary{
		RunID:              runID,
		Processed:          s.processed,
		Synced:             s.synced,
		Skipped:            s.skipped,
		Failed:             s.failed,
		MediaMirrored:      s.mirrored,
		Fallbacks:          len(s.fallbacks),
		FallbackDetails:    append([]Fallback(nil), s.fallbacks...),
		MissingBlocks:      missing,
		Unsupported:        unsupported,
		ButtonsSynthesized: s.buttons,
		ElapsedMs:          elapsed.Milliseconds(),
	}
}
