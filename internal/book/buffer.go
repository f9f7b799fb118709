package book

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/clearinghouse/prediction-core/internal/model"
)

// blockMetadataFields is level_count, best_price, total_qty, last_update_ts
// (spec.md §4.3's per-side block header).
const blockMetadataFields = 4

// blockMetadataBytes and blockLevelsBytes give the per-block layout spec.md
// §6 describes: 4 8-byte metadata fields (three float64s and a uint64
// nanosecond last_update_ts) + MaxLevels (price, qty) pairs, each pair
// two float64s (16 bytes). One block exists per (outcome, side) combination;
// a market has 2 outcomes × 2 sides = 4 blocks.
const (
	blockMetadataBytes = blockMetadataFields * 8
	blockLevelsBytes   = MaxLevels * 16
	blockBytes         = blockMetadataBytes + blockLevelsBytes
	numBlocks          = 4 // YES-bid, YES-ask, NO-bid, NO-ask
	// BufferBytesPerMarket is the total zero-copy buffer size per market.
	// Computed directly from the layout above (4 blocks x 1632 bytes each);
	// spec.md §6 names this figure as 13,056 bytes but its own worked
	// multiplication (4x4x8 + 4x100x16) evaluates to 6,528, matching what is
	// implemented here — see DESIGN.md for the discrepancy note.
	BufferBytesPerMarket = numBlocks * blockBytes
)

func blockIndex(outcome model.Outcome, side model.OrderSide) int {
	idx := 0
	if outcome == model.OutcomeNo {
		idx += 2
	}
	if side == model.SideSell {
		idx += 1
	}
	return idx
}

// Buffer is the fixed-layout, single-writer/multi-reader projection of a
// book's four (outcome, side) blocks, per spec.md §4.3 and §6. Writes are
// serialized by the matching engine's single-writer-per-market discipline;
// reads are lock-free and detect torn reads via last_update_ts sampled
// before and after (spec.md §5 "shared-resource policy").
type Buffer struct {
	data [BufferBytesPerMarket]byte
}

func NewBuffer() *Buffer { return &Buffer{} }

// Bytes exposes the raw buffer for an external zero-copy reader.
func (buf *Buffer) Bytes() []byte { return buf.data[:] }

// Write refreshes one (outcome, side) block with up to MaxLevels levels,
// best first. Called by the book after every mutation to that side.
func (buf *Buffer) Write(outcome model.Outcome, side model.OrderSide, levels []LevelSummary, now time.Time) {
	base := blockIndex(outcome, side) * blockBytes
	block := buf.data[base : base+blockBytes]

	var bestPrice float64
	var totalQty float64
	if len(levels) > 0 {
		bestPrice = levels[0].Price.Float64()
	}
	for _, lv := range levels {
		totalQty += float64(lv.TotalQty)
	}

	putFloat64(block[0:8], float64(len(levels)))
	putFloat64(block[8:16], bestPrice)
	putFloat64(block[16:24], totalQty)
	binary.LittleEndian.PutUint64(block[24:32], uint64(now.UnixNano()))

	for i := 0; i < MaxLevels; i++ {
		pairOffset := blockMetadataBytes + i*16
		if i < len(levels) {
			putFloat64(block[pairOffset:pairOffset+8], levels[i].Price.Float64())
			putFloat64(block[pairOffset+8:pairOffset+16], float64(levels[i].TotalQty))
		} else {
			putFloat64(block[pairOffset:pairOffset+8], 0)
			putFloat64(block[pairOffset+8:pairOffset+16], 0)
		}
	}
}

// ReadSnapshot is one block decoded from the buffer, with a Stale flag
// set when last_update_ts changed between the pre- and post-read samples.
type ReadSnapshot struct {
	LevelCount   int
	BestPrice    float64
	TotalQty     float64
	LastUpdateTS int64
	Levels       [MaxLevels][2]float64 // (price, qty) pairs
	Stale        bool
}

// Read decodes one (outcome, side) block, applying the staleness check
// described in spec.md §5: last_update_ts is sampled before and after the
// level reads, and the snapshot is marked Stale (not retried automatically)
// if the two samples disagree, leaving the retry policy to the caller.
func (buf *Buffer) Read(outcome model.Outcome, side model.OrderSide) ReadSnapshot {
	base := blockIndex(outcome, side) * blockBytes
	block := buf.data[base : base+blockBytes]

	tsBefore := binary.LittleEndian.Uint64(block[24:32])

	var snap ReadSnapshot
	snap.LevelCount = int(getFloat64(block[0:8]))
	snap.BestPrice = getFloat64(block[8:16])
	snap.TotalQty = getFloat64(block[16:24])
	for i := 0; i < MaxLevels; i++ {
		pairOffset := blockMetadataBytes + i*16
		snap.Levels[i][0] = getFloat64(block[pairOffset : pairOffset+8])
		snap.Levels[i][1] = getFloat64(block[pairOffset+8 : pairOffset+16])
	}

	tsAfter := binary.LittleEndian.Uint64(block[24:32])
	snap.LastUpdateTS = int64(tsAfter)
	snap.Stale = tsBefore != tsAfter
	return snap
}

func putFloat64(b []byte, v float64) {
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
}

func getFloat64(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}
