package pipeline

import "sync/atomic"

// ProgressSnapshot is the read-only view of orchestrator progress (§4.11).
type ProgressSnapshot struct {
	BatchesCompleted  int64
	BatchesFailed     int64
	MemoriesExtracted int64
	AverageConfidence float64
	AutoApproved      int64
	NeedsReview       int64
	AutoRejected      int64
	SpentUSD          float64
	Stopped           bool
}

// progress holds the atomic counters the worker pool mutates concurrently
// and the orchestrator reads out as a ProgressSnapshot. Every counter has
// exactly one kind of writer (a worker finishing a unit of work); readers
// take a consistent-enough snapshot via independent atomic loads, which is
// sufficient since the spec only requires monotonic counts, not a single
// atomic multi-field transaction.
type progress struct {
	batchesCompleted  atomic.Int64
	batchesFailed     atomic.Int64
	memoriesExtracted atomic.Int64
	confidenceSum     atomic.Int64 // confidence * 1e6, summed, for integer-atomic averaging
	autoApproved      atomic.Int64
	needsReview       atomic.Int64
	autoRejected      atomic.Int64
	stopped           atomic.Bool
}

const confidenceScale = 1_000_000

func (p *progress) recordBatchCompleted() { p.batchesCompleted.Add(1) }
func (p *progress) recordBatchFailed()    { p.batchesFailed.Add(1) }

func (p *progress) recordMemory(confidence float64, validation memoryRoute) {
	p.memoriesExtracted.Add(1)
	p.confidenceSum.Add(int64(confidence * confidenceScale))
	switch validation {
	case routeAutoApproved:
		p.autoApproved.Add(1)
	case routeNeedsReview:
		p.needsReview.Add(1)
	case routeAutoRejected:
		p.autoRejected.Add(1)
	}
}

func (p *progress) markStopped() { p.stopped.Store(true) }

func (p *progress) snapshot(spentUSD float64) ProgressSnapshot {
	extracted := p.memoriesExtracted.Load()
	avg := 0.0
	if extracted > 0 {
		avg = float64(p.confidenceSum.Load()) / confidenceScale / float64(extracted)
	}
	return ProgressSnapshot{
		BatchesCompleted:  p.batchesCompleted.Load(),
		BatchesFailed:     p.batchesFailed.Load(),
		MemoriesExtracted: extracted,
		AverageConfidence: avg,
		AutoApproved:      p.autoApproved.Load(),
		NeedsReview:       p.needsReview.Load(),
		AutoRejected:      p.autoRejected.Load(),
		SpentUSD:          spentUSD,
		Stopped:           p.stopped.Load(),
	}
}

// memoryRoute mirrors the three outcomes autoconfirm.Route can produce
// that the progress snapshot tallies (§4.11); human-reviewed outcomes are
// counted when feedback lands, not here.
type memoryRoute int

const (
	routeOther memoryRoute = iota
	routeAutoApproved
	routeNeedsReview
	routeAutoRejected
)
