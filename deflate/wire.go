package deflate

import (
	"github.com/libnxz/nxcore/nxstream"
)

// buildHeader emits the gzip/zlib/raw header, spec §4.6 "Header emit".
// A caller-supplied name/comment/mtime is out of scope here (spec's
// Non-goals exclude gzip metadata beyond what round-tripping needs); a
// blank 10-byte gzip header or a bare 2-byte zlib header is emitted.
func (e *Engine) buildHeader() []byte {
	switch e.Wrap {
	case nxstream.WrapGzip:
		// spec §6: the blank gzip header is exactly these 10 bytes
		// (XFL=04 "fastest", OS=03 "Unix").
		h := []byte{0x1F, 0x8B, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x04, 0x03}
		return h
	case nxstream.WrapZlib:
		cmf := byte(0x08) | byte((15-8)<<4)
		flg := zlibFLG(e.level, len(e.Dict) > 0)
		h := []byte{cmf, flg}
		if len(e.Dict) > 0 {
			h = append(h, be32Bytes(e.DictID)...)
		}
		return h
	default:
		return nil
	}
}

// zlibFLG composes the zlib FLG byte's level bits and FDICT bit so that
// (CMF*256+FLG) % 31 == 0, spec §4.6.
func zlibFLG(level int, hasDict bool) byte {
	var levelBits byte
	switch {
	case level == 0:
		levelBits = 0 // fastest
	case level < 2:
		levelBits = 0
	case level < 6:
		levelBits = 1
	case level == 6:
		levelBits = 2
	default:
		levelBits = 3 // maximum compression
	}
	flg := levelBits << 6
	if hasDict {
		flg |= 0x20
	}
	check := (uint16(0x08|((15-8)<<4))*256 + uint16(flg)) % 31
	if check != 0 {
		flg += byte(31 - check)
	}
	return flg
}

// buildTrailer emits the wrap format's trailer, spec §4.6 "Trailer".
func (e *Engine) buildTrailer() []byte {
	switch e.Wrap {
	case nxstream.WrapGzip:
		out := le32Bytes(e.CRC32)
		out = append(out, le32Bytes(uint32(e.TotalIn))...)
		return out
	case nxstream.WrapZlib:
		return be32Bytes(e.Adler32)
	default:
		return nil
	}
}

func le32Bytes(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func be32Bytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// encodeStoredBlock packs data as a RFC 1951 §3.2.4 stored (btype=00)
// block: this engine only ever calls it from a byte-aligned position
// (spec §4.6 step 2's "sync-flush-aligned stored block header"), so the
// 3-bit block header (BFINAL, BTYPE=00) occupies the low 3 bits of its
// own byte with 5 padding zero bits.
func encodeStoredBlock(data []byte, final bool) []byte {
	var header byte
	if final {
		header = 1
	}
	n := uint16(len(data))
	nlen := ^n
	out := make([]byte, 0, 5+len(data))
	out = append(out, header)
	out = append(out, byte(n), byte(n>>8))
	out = append(out, byte(nlen), byte(nlen>>8))
	out = append(out, data...)
	return out
}

// appendSyncFlush appends an empty byte-aligned stored block: spec
// §4.6 "append_sync_flush" (BFINAL + 00 btype + zero LEN/NLEN). The
// bundled Software backend always leaves tebc == 0 after a compress
// job's Flush() call, so this is always the 5-byte form (a dedicated
// header byte plus a 4-byte zero-length LEN/NLEN pair) rather than the
// 4-byte form a true mid-byte hardware suspension could produce.
func (e *Engine) appendSyncFlush() {
	block := encodeStoredBlock(nil, false)
	e.stage(block)
	e.TotalOut += int64(len(block))
	e.TEBC = 0
}

// appendFinalBlock closes the bitstream with an empty final stored
// block (BFINAL=1), spec §4.6 "BFINAL": since output may already have
// been copied into the caller's buffer by the time FINISH arrives,
// this engine terminates with a fresh empty final block rather than
// rewriting an earlier block's header byte in place.
func (e *Engine) appendFinalBlock() {
	block := encodeStoredBlock(nil, true)
	e.stage(block)
	e.TotalOut += int64(len(block))
	e.TEBC = 0
}

// appendPartialFlush appends a 10-bit empty fixed-Huffman block
// (BTYPE=01, 7-bit EOB=0), spec §4.6 "append_partial_flush", used by
// Z_PARTIAL_FLUSH after a preceding sync flush.
func (e *Engine) appendPartialFlush() {
	// bits, LSB first: BFINAL=0 (1 bit), BTYPE=01 (2 bits, value 1),
	// EOB code for the fixed table (7 zero bits) -> 10 bits total,
	// packed into 2 bytes with 6 trailing pad bits.
	var w bitWriter
	w.writeBits(0, 1)
	w.writeBits(1, 2)
	w.writeBits(0, 7)
	block := w.bytes()
	e.stage(block)
	e.TotalOut += int64(len(block))
	e.TEBC = 0
}

// bitWriter packs bits LSB-first within each byte, matching RFC 1951's
// bit order for block headers and fixed/stored block framing.
type bitWriter struct {
	buf    []byte
	bitpos uint
}

func (w *bitWriter) writeBits(value uint32, n int) {
	for i := 0; i < n; i++ {
		bit := byte((value >> uint(i)) & 1)
		if w.bitpos == 0 {
			w.buf = append(w.buf, 0)
		}
		w.buf[len(w.buf)-1] |= bit << w.bitpos
		w.bitpos = (w.bitpos + 1) % 8
	}
}

func (w *bitWriter) bytes() []byte { return w.buf }
