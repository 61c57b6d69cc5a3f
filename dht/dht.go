// Package dht builds and caches canonical dynamic Huffman tables (DHTs)
// for DEFLATE's dynamic-Huffman block type, and decides when a new job
// should reuse a previously seen table instead of emitting a fresh one.
package dht

import "sort"

// Alphabet layout: 286 literal/length symbols (0-255 literals, 256 EOB,
// 257-285 length codes) followed by 30 distance symbols.
const (
	LitLenSize = 286
	DistSize   = 30
	numLits    = 256
	lenBase    = 257
)

// NumEntries is the cache's total table capacity, spec §4.4 ("a cache of
// a hundred entries").
const NumEntries = 100

// maxCodeLen is DEFLATE's hard limit on a single Huffman code's bit length.
const maxCodeLen = 15

// Request selects the cache operation Lookup performs.
type Request int

const (
	// RequestDefault returns the first builtin entry unconditionally.
	RequestDefault Request = iota
	// RequestGen always synthesizes a fresh table from counts, without
	// consulting or updating the cache.
	RequestGen
	// RequestSearch looks for a cached table matching the top symbols of
	// counts, generating and caching a new one on a miss.
	RequestSearch
	// RequestInvalidate clears all non-builtin entries and returns an
	// empty Table; it neither searches nor installs a new entry.
	RequestInvalidate
)

// Table is a synthesized or cached canonical Huffman table: the DEFLATE
// dynamic-header bytes (HLIT/HDIST/HCLEN-coded code length sequence
// followed by the bit-packed code length alphabet and the literal/
// length/distance code lengths themselves) plus its bit count.
type Table struct {
	Bytes   []byte
	NumBits int
}

type cacheEntry struct {
	table    Table
	topLit   [2]int
	topLen   [2]int
	useCount int64 // 0 = empty, -1 = pinned builtin, >0 = LRU-ish count
}

// Cache holds NumEntries candidate tables plus any pinned builtins
// installed at construction, and a least-used replacement policy
// matching the reference implementation's dht_lookup3.
type Cache struct {
	entries [NumEntries]cacheEntry
}

// NewCache returns a cache pre-seeded with the two pinned builtin
// entries spec §3/§4.4 describes ("2 pinned builtins that approximate
// the fixed Huffman table"): entry 0 from a generic English-text-like
// histogram, entry 1 from a flatter, near-uniform byte distribution
// closer to what the real fixed Huffman table would favor for binary
// data. Both are pinned (use_count = -1) so RequestSearch never evicts
// them.
func NewCache() *Cache {
	c := &Cache{}

	tbl0, topLit0, topLen0 := build(builtinHistogram())
	c.entries[0] = cacheEntry{table: tbl0, topLit: topLit0, topLen: topLen0, useCount: -1}

	tbl1, topLit1, topLen1 := build(uniformHistogram())
	c.entries[1] = cacheEntry{table: tbl1, topLit: topLit1, topLen: topLen1, useCount: -1}

	return c
}

// Lookup performs req against counts (a LitLenSize+DistSize histogram,
// spec glossary "LZ count") and returns the table to use.
func (c *Cache) Lookup(req Request, counts *[LitLenSize + DistSize]uint32) Table {
	switch req {
	case RequestDefault:
		return c.entries[0].table
	case RequestInvalidate:
		for i := range c.entries {
			if c.entries[i].useCount > 0 {
				c.entries[i].useCount = 0
			}
		}
		return Table{}
	case RequestSearch:
		return c.search(counts)
	default: // RequestGen
		tbl, _, _ := build(*counts)
		return tbl
	}
}

func (c *Cache) search(counts *[LitLenSize + DistSize]uint32) Table {
	topLit, topLen := topTwo(counts)

	sidx := topLit[0]
	if sidx < 0 {
		sidx = 0
	}
	sidx %= NumEntries

	leastIdx := 0
	leastCount := int64(1) << 30

	for i := 0; i < NumEntries; i, sidx = i+1, (sidx+1)%NumEntries {
		e := &c.entries[sidx]
		used := e.useCount

		if used == 0 {
			if leastCount != 0 {
				leastCount = used
				leastIdx = sidx
			}
			continue
		}
		if used < leastCount && used > 0 {
			leastCount = used
			leastIdx = sidx
		}

		if e.topLit == topLit && e.topLen == topLen {
			if used >= 0 {
				e.useCount++
			}
			if e.useCount > 1<<30 {
				for k := range c.entries {
					if c.entries[k].useCount >= 0 {
						c.entries[k].useCount = (c.entries[k].useCount + 1) / 2
					}
				}
			}
			return e.table
		}
	}

	tbl, _, _ := build(*counts)
	e := &c.entries[leastIdx]
	e.table = tbl
	e.topLit = topLit
	e.topLen = topLen
	e.useCount = 1
	return tbl
}

// topTwo returns the two most frequent literal symbols (0-255) and the
// two most frequent length symbols (257-285), spec §4.4's cache key.
func topTwo(counts *[LitLenSize + DistSize]uint32) (lit, ln [2]int) {
	lit = [2]int{-1, -1}
	ln = [2]int{-1, -1}
	var litCnt, lenCnt [2]uint32

	for i := 0; i < numLits; i++ {
		c := counts[i]
		if c > litCnt[0] {
			litCnt[1], lit[1] = litCnt[0], lit[0]
			litCnt[0], lit[0] = c, i
		} else if c > litCnt[1] {
			litCnt[1], lit[1] = c, i
		}
	}
	for i := numLits; i < LitLenSize; i++ {
		c := counts[i]
		if c > lenCnt[0] {
			lenCnt[1], ln[1] = lenCnt[0], ln[0]
			lenCnt[0], ln[0] = c, i
		} else if c > lenCnt[1] {
			lenCnt[1], ln[1] = c, i
		}
	}
	return lit, ln
}

// fillZero replaces every zero count with 1, guaranteeing every symbol
// gets a (possibly very long) code so the resulting table can represent
// any byte value — spec §4.4 "universal table with no missing codes".
func fillZero(counts *[LitLenSize + DistSize]uint32) [LitLenSize + DistSize]uint32 {
	var out [LitLenSize + DistSize]uint32
	for i, c := range counts {
		if c == 0 {
			c = 1
		}
		out[i] = c
	}
	return out
}

func builtinHistogram() [LitLenSize + DistSize]uint32 {
	var counts [LitLenSize + DistSize]uint32
	// A rough English-text letter/space frequency table, just enough to
	// seed a plausible pinned default table; real deployments would
	// capture this from representative corpora the way dht_begin's
	// builtin tables were generated offline.
	freq := map[byte]uint32{
		' ': 1800, 'e': 1100, 't': 900, 'a': 800, 'o': 750, 'i': 700,
		'n': 690, 's': 650, 'h': 600, 'r': 590, 'd': 420, 'l': 400,
		'u': 280, 'c': 270, 'm': 240, 'w': 230, 'f': 220, 'g': 200,
		'y': 190, 'p': 180, 'b': 150, ',': 120, '.': 110, 'v': 90,
		'k': 70, '\n': 400,
	}
	for b, c := range freq {
		counts[b] = c
	}
	counts[256] = 10 // EOB
	counts[257] = 50 // a modest baseline of length/distance codes
	counts[LitLenSize+0] = 50
	return counts
}

// uniformHistogram seeds the second pinned builtin (spec §3/§4.4's "2
// pinned builtins") with a near-flat literal distribution plus a
// shallow length/distance taper, approximating the fixed Huffman
// table's behavior on data with no strong byte skew (binary payloads,
// already-compressed data) rather than English text.
func uniformHistogram() [LitLenSize + DistSize]uint32 {
	var counts [LitLenSize + DistSize]uint32
	for i := 0; i < numLits; i++ {
		counts[i] = 64
	}
	counts[256] = 10 // EOB
	for i := lenBase; i < LitLenSize; i++ {
		counts[i] = 8
	}
	for i := LitLenSize; i < LitLenSize+DistSize; i++ {
		counts[i] = 8
	}
	return counts
}

// build synthesizes a canonical dynamic Huffman table from counts,
// returning the table plus the top-2 literal/length symbols used as its
// cache key. Every symbol is guaranteed at least one occurrence (spec
// §4.4's "universal table with no missing codes") so the resulting table
// can represent any byte value regardless of what the sample actually
// contained.
func build(counts [LitLenSize + DistSize]uint32) (Table, [2]int, [2]int) {
	topLit, topLen := topTwo(&counts)

	filled := fillZero(&counts)
	litLen := codeLengths(filled[:LitLenSize], maxCodeLen)
	dist := codeLengths(filled[LitLenSize:], maxCodeLen)

	bytes, bits := encodeDynamicHeader(litLen, dist)
	return Table{Bytes: bytes, NumBits: bits}, topLit, topLen
}

// codeLengths computes length-limited canonical Huffman code lengths for
// counts, following the classic build-tree-then-reflow-overflow approach
// (zlib's tr_tree.c build_tree/gen_bitlen): build an unrestricted Huffman
// tree, then iteratively borrow bits from the deepest codes until no code
// exceeds maxLen.
func codeLengths(counts []uint32, maxLen int) []int {
	n := len(counts)
	type node struct {
		freq   uint64
		sym    int
		left   int
		right  int
		isLeaf bool
	}

	var present []int
	for i, c := range counts {
		if c > 0 {
			present = append(present, i)
		}
	}
	lengths := make([]int, n)
	if len(present) == 0 {
		return lengths
	}
	if len(present) == 1 {
		lengths[present[0]] = 1
		return lengths
	}

	nodes := make([]node, 0, 2*len(present))
	for _, sym := range present {
		nodes = append(nodes, node{freq: uint64(counts[sym]), sym: sym, isLeaf: true})
	}

	type queued struct {
		idx  int
		freq uint64
	}
	active := make([]queued, len(nodes))
	for i := range nodes {
		active[i] = queued{idx: i, freq: nodes[i].freq}
	}

	for len(active) > 1 {
		sort.Slice(active, func(i, j int) bool { return active[i].freq < active[j].freq })
		a, b := active[0], active[1]
		parentIdx := len(nodes)
		nodes = append(nodes, node{freq: a.freq + b.freq, left: a.idx, right: b.idx})
		active = append([]queued{{idx: parentIdx, freq: a.freq + b.freq}}, active[2:]...)
	}

	// Walk down from the root assigning depths (= unrestricted code
	// lengths) to every leaf.
	var walk func(idx, depth int)
	walk = func(idx, depth int) {
		nd := &nodes[idx]
		if nd.isLeaf {
			lengths[nd.sym] = depth
			return
		}
		walk(nd.left, depth+1)
		walk(nd.right, depth+1)
	}
	walk(active[0].idx, 0)
	if lengths[present[0]] == 0 {
		lengths[present[0]] = 1
	}

	limitLengths(lengths, present, maxLen)
	return lengths
}

// limitLengths applies zlib's overflow fix-up: while any code exceeds
// maxLen, it is truncated, and the resulting excess of the Kraft sum is
// repaid by lengthening a code one level shallower than maxLen, in pairs,
// until the Kraft inequality holds again.
func limitLengths(lengths []int, present []int, maxLen int) {
	counts := make([]int, maxLen+2)
	for _, sym := range present {
		l := lengths[sym]
		if l > maxLen {
			l = maxLen
		}
		counts[l]++
	}

	overflow := 0
	for _, sym := range present {
		if lengths[sym] > maxLen {
			overflow++
		}
	}
	if overflow == 0 {
		for _, sym := range present {
			if lengths[sym] == 0 {
				lengths[sym] = 1
			}
		}
		return
	}

	for _, sym := range present {
		if lengths[sym] > maxLen {
			lengths[sym] = maxLen
		}
	}

	for overflow > 0 {
		bits := maxLen - 1
		for counts[bits] == 0 {
			bits--
		}
		counts[bits]--
		counts[bits+1] += 2
		counts[maxLen]--
		overflow -= 2
	}

	// Reassign actual lengths symbol-by-symbol, shallowest first, per
	// the final counts histogram, preserving each symbol's relative
	// original ordering as a tie-break (matches a stable canonical
	// assignment).
	order := make([]int, len(present))
	copy(order, present)
	sort.SliceStable(order, func(i, j int) bool {
		return lengths[order[i]] < lengths[order[j]]
	})
	idx := 0
	for l := 1; l <= maxLen; l++ {
		for k := 0; k < counts[l]; k++ {
			lengths[order[idx]] = l
			idx++
		}
	}
}

// canonicalCodes assigns canonical Huffman codes (RFC 1951 §3.2.2) given
// a set of code lengths.
func canonicalCodes(lengths []int, maxLen int) []uint16 {
	blCount := make([]int, maxLen+1)
	for _, l := range lengths {
		if l > 0 {
			blCount[l]++
		}
	}
	code := 0
	nextCode := make([]int, maxLen+1)
	for bits := 1; bits <= maxLen; bits++ {
		code = (code + blCount[bits-1]) << 1
		nextCode[bits] = code
	}
	codes := make([]uint16, len(lengths))
	for sym, l := range lengths {
		if l == 0 {
			continue
		}
		codes[sym] = uint16(nextCode[l])
		nextCode[l]++
	}
	return codes
}

// bitWriter packs bits LSB-first within each byte, DEFLATE's bit order
// (RFC 1951 §3.1.1).
type bitWriter struct {
	buf    []byte
	bitpos uint
}

func (w *bitWriter) writeBits(value uint32, n int) {
	for i := 0; i < n; i++ {
		byteIdx := int(w.bitpos / 8)
		for byteIdx >= len(w.buf) {
			w.buf = append(w.buf, 0)
		}
		bit := byte((value >> uint(i)) & 1)
		w.buf[byteIdx] |= bit << (w.bitpos % 8)
		w.bitpos++
	}
}

func (w *bitWriter) writeCode(codes []uint16, lengths []int, sym int) {
	l := lengths[sym]
	code := codes[sym]
	// Huffman codes are packed MSB-first within their own bit-length
	// (RFC 1951 §3.2.2), while extra bits and the rest of the stream
	// are LSB-first; write the code's bits most-significant-first.
	for i := l - 1; i >= 0; i-- {
		w.writeBits(uint32((code>>uint(i))&1), 1)
	}
}

// clOrder is the order in which code-length code lengths are transmitted
// (RFC 1951 §3.2.7).
var clOrder = [19]int{16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15}

type rleSym struct {
	sym   int
	extra int
	bits  int
}

// rleEncode run-length-encodes a code length sequence using symbols
// 0-15 (literal length), 16 (repeat previous 3-6 times), 17 (repeat
// zero 3-10 times), and 18 (repeat zero 11-138 times), per RFC 1951
// §3.2.7.
func rleEncode(lengths []int) []rleSym {
	var out []rleSym
	i := 0
	for i < len(lengths) {
		l := lengths[i]
		runLen := 1
		for i+runLen < len(lengths) && lengths[i+runLen] == l {
			runLen++
		}

		remaining := runLen
		if l == 0 {
			for remaining > 0 {
				switch {
				case remaining >= 11:
					n := remaining
					if n > 138 {
						n = 138
					}
					out = append(out, rleSym{sym: 18, extra: n - 11, bits: 7})
					remaining -= n
				case remaining >= 3:
					n := remaining
					if n > 10 {
						n = 10
					}
					out = append(out, rleSym{sym: 17, extra: n - 3, bits: 3})
					remaining -= n
				default:
					out = append(out, rleSym{sym: 0})
					remaining--
				}
			}
		} else {
			out = append(out, rleSym{sym: l})
			remaining--
			for remaining > 0 {
				if remaining < 3 {
					for ; remaining > 0; remaining-- {
						out = append(out, rleSym{sym: l})
					}
					break
				}
				n := remaining
				if n > 6 {
					n = 6
				}
				out = append(out, rleSym{sym: 16, extra: n - 3, bits: 2})
				remaining -= n
			}
		}

		i += runLen
	}
	return out
}

// encodeDynamicHeader bit-packs a DEFLATE dynamic Huffman block header
// (RFC 1951 §3.2.7): HLIT/HDIST/HCLEN, the code-length alphabet's own
// code lengths, then the RLE-coded literal/length and distance code
// length sequences. It does not include the 3-bit BFINAL/BTYPE block
// header itself; the caller (the deflate engine) owns block framing,
// since the same table may be reused across several blocks.
func encodeDynamicHeader(litLen, dist []int) ([]byte, int) {
	hlit := lastNonZero(litLen, numLits) + 1
	if hlit < lenBase {
		hlit = lenBase
	}
	hdist := lastNonZero(dist, 0) + 1
	if hdist < 1 {
		hdist = 1
	}

	combined := make([]int, hlit+hdist)
	copy(combined, litLen[:hlit])
	copy(combined[hlit:], dist[:hdist])

	rle := rleEncode(combined)

	clCounts := make([]uint32, 19)
	for _, r := range rle {
		clCounts[r.sym]++
	}
	clLengths := codeLengths(clCounts, 7)
	clCodes := canonicalCodes(clLengths, 7)

	hclen := len(clOrder)
	for hclen > 4 && clLengths[clOrder[hclen-1]] == 0 {
		hclen--
	}

	w := &bitWriter{}
	w.writeBits(uint32(hlit-257), 5)
	w.writeBits(uint32(hdist-1), 5)
	w.writeBits(uint32(hclen-4), 4)
	for i := 0; i < hclen; i++ {
		w.writeBits(uint32(clLengths[clOrder[i]]), 3)
	}

	for _, r := range rle {
		w.writeCode(clCodes, clLengths, r.sym)
		if r.bits > 0 {
			w.writeBits(uint32(r.extra), r.bits)
		}
	}

	return w.buf, int(w.bitpos)
}

func lastNonZero(lengths []int, floor int) int {
	last := floor
	for i, l := range lengths {
		if l != 0 && i > last {
			last = i
		}
	}
	return last
}
