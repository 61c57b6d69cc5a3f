package dht

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func skewedCounts(hotLit, hotLen int) *[LitLenSize + DistSize]uint32 {
	var c [LitLenSize + DistSize]uint32
	c[hotLit] = 5000
	c[hotLen] = 3000
	c[256] = 10
	c[LitLenSize] = 20
	return &c
}

func TestLookupDefaultReturnsPinnedEntry(t *testing.T) {
	c := NewCache()
	tbl := c.Lookup(RequestDefault, skewedCounts('x', 260))
	if len(tbl.Bytes) == 0 || tbl.NumBits == 0 {
		t.Fatalf("default table is empty")
	}
}

func TestNewCacheSeedsTwoPinnedBuiltins(t *testing.T) {
	c := NewCache()
	if c.entries[0].useCount != -1 || c.entries[1].useCount != -1 {
		t.Fatalf("expected entries 0 and 1 pinned (use_count=-1), got %d and %d",
			c.entries[0].useCount, c.entries[1].useCount)
	}
	if len(c.entries[0].table.Bytes) == 0 || len(c.entries[1].table.Bytes) == 0 {
		t.Fatalf("both pinned builtins must carry a synthesized table")
	}
	for i := 2; i < NumEntries; i++ {
		if c.entries[i].useCount != 0 {
			t.Fatalf("entry %d should start empty (use_count=0), got %d", i, c.entries[i].useCount)
		}
	}
}

func TestSearchCachesAndHits(t *testing.T) {
	c := NewCache()
	counts := skewedCounts('q', 270)

	first := c.search(counts)
	second := c.search(counts)

	if string(first.Bytes) != string(second.Bytes) || first.NumBits != second.NumBits {
		t.Fatalf("repeated search with identical histogram did not hit the cache")
	}
}

func TestSearchDistinguishesHistograms(t *testing.T) {
	c := NewCache()
	a := c.search(skewedCounts('a', 260))
	b := c.search(skewedCounts('z', 280))

	if string(a.Bytes) == string(b.Bytes) && a.NumBits == b.NumBits {
		t.Fatalf("distinct histograms produced identical tables; topTwo key is not discriminating")
	}
}

func TestSearchHitLeavesEntriesUnchangedExceptUseCount(t *testing.T) {
	c := NewCache()
	counts := skewedCounts('q', 270)

	c.search(counts)
	before := c.entries
	c.search(counts)
	after := c.entries

	diff := cmp.Diff(before, after,
		cmp.AllowUnexported(cacheEntry{}),
		cmpopts.IgnoreFields(cacheEntry{}, "useCount"))
	if diff != "" {
		t.Fatalf("repeat search hit changed cache state beyond use_count:\n%s", diff)
	}
}

func TestInvalidateClearsNonBuiltin(t *testing.T) {
	c := NewCache()
	counts := skewedCounts('m', 265)
	c.search(counts)

	populated := 0
	for _, e := range c.entries {
		if e.useCount > 0 {
			populated++
		}
	}
	if populated == 0 {
		t.Fatalf("expected at least one populated cache entry before invalidate")
	}

	c.Lookup(RequestInvalidate, counts)

	for i, e := range c.entries {
		if i == 0 || i == 1 {
			continue // both builtins are pinned (use_count == -1), invalidate must not touch them
		}
		if e.useCount > 0 {
			t.Fatalf("entry %d still marked used after invalidate", i)
		}
	}
	if c.entries[0].useCount != -1 || c.entries[1].useCount != -1 {
		t.Fatalf("invalidate must not clear either pinned builtin entry")
	}
}

func TestRequestGenBypassesCache(t *testing.T) {
	c := NewCache()
	occupied := func() int {
		n := 0
		for _, e := range c.entries {
			if e.useCount != 0 {
				n++
			}
		}
		return n
	}
	start := occupied()
	c.Lookup(RequestGen, skewedCounts('r', 275))
	if occupied() != start {
		t.Fatalf("RequestGen must not populate the cache")
	}
}

func TestCodeLengthsRespectMaxLen(t *testing.T) {
	counts := make([]uint32, 286)
	// A heavily skewed Fibonacci-like distribution forces deep codes
	// that must be reflowed to fit within maxCodeLen.
	counts[0], counts[1] = 1, 1
	for i := 2; i < 40; i++ {
		counts[i] = counts[i-1] + counts[i-2]
	}
	for i := 40; i < 286; i++ {
		counts[i] = 1
	}

	lengths := codeLengths(counts, maxCodeLen)
	for sym, l := range lengths {
		if l > maxCodeLen {
			t.Fatalf("symbol %d has code length %d exceeding max %d", sym, l, maxCodeLen)
		}
	}
}

func TestCanonicalCodesAreComplete(t *testing.T) {
	counts := make([]uint32, 8)
	for i := range counts {
		counts[i] = uint32(i + 1)
	}
	lengths := codeLengths(counts, 15)
	codes := canonicalCodes(lengths, 15)

	// Kraft equality: sum of 2^-length over all used symbols must be 1
	// for a complete canonical code.
	num := 0
	den := 1 << 15
	sum := 0
	for _, l := range lengths {
		if l == 0 {
			continue
		}
		sum += den >> uint(l)
	}
	num = sum
	if num != den {
		t.Fatalf("canonical code is not complete: kraft sum %d != %d", num, den)
	}
	if len(codes) != len(lengths) {
		t.Fatalf("codes/lengths length mismatch")
	}
}

func TestEncodeDynamicHeaderProducesNonEmptyOutput(t *testing.T) {
	tbl, _, _ := build(*skewedCounts('a', 260))
	if len(tbl.Bytes) == 0 {
		t.Fatalf("expected non-empty dynamic header bytes")
	}
	if tbl.NumBits <= 0 || tbl.NumBits > len(tbl.Bytes)*8 {
		t.Fatalf("NumBits %d inconsistent with byte length %d", tbl.NumBits, len(tbl.Bytes))
	}
}
