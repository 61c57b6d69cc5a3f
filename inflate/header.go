package inflate

import (
	"github.com/libnxz/nxcore/checksum"
	"github.com/libnxz/nxcore/nxstream"
)

// headerPhase enumerates the inflate header sub-states of spec §4.5,
// including AUTO wrap detection and both gzip and zlib field sequences.
type headerPhase int

const (
	hpAuto headerPhase = iota
	hpGzipID1
	hpGzipID2
	hpGzipCM
	hpGzipFLG
	hpGzipMTime
	hpGzipXFL
	hpGzipOS
	hpGzipXLen
	hpGzipExtra
	hpGzipName
	hpGzipComment
	hpGzipHCRC
	hpZlibCMF
	hpZlibFLG
	hpZlibDictID
	hpDone
)

const (
	gzipFEXTRA  = 1 << 2
	gzipFNAME   = 1 << 3
	gzipFCOMMENT = 1 << 4
	gzipFHCRC   = 1 << 1
)

// headerState is the byte-at-a-time gzip/zlib header parser's
// carried-over state: it must survive across calls that supply input
// one byte at a time (spec §4.5 "checkpointing: insufficient input in
// any sub-state causes the function to return OK, preserving all
// partial fields").
type headerState struct {
	phase headerPhase

	flg         byte
	cmf         byte
	extraRemain int
	pending     []byte
	pendingWant int

	headerBytes []byte // gzip header bytes seen so far, for the FHCRC check
	dictID      uint32
}

// headerResult is what one call to stepHeader reports.
type headerResult struct {
	consumed int
	status   nxstream.Status
	done     bool // header fully parsed; body decompression may begin
	needDict bool
}

// stepHeader consumes as much of data as is available toward completing
// the header; on short input it returns with consumed == len(data) and
// done == false, preserving state for the next call.
func stepHeader(s *nxstream.Stream, hs *headerState, data []byte) headerResult {
	total := 0

	for total < len(data) || readyWithoutInput(hs) {
		rest := data[total:]

		switch hs.phase {
		case hpAuto:
			if len(rest) < 1 {
				return headerResult{consumed: total, status: nxstream.StatusOK}
			}
			b := rest[0]
			if b == 0x1F {
				s.Wrap = nxstream.WrapGzip
				hs.phase = hpGzipID1
				continue
			}
			if (b&0xF0) == 0x80 && (b&0x0F) < 8 {
				s.Wrap = nxstream.WrapZlib
				hs.phase = hpZlibCMF
				continue
			}
			return headerResult{consumed: total, status: nxstream.StatusDataError}

		case hpGzipID1:
			if len(rest) < 1 {
				return headerResult{consumed: total, status: nxstream.StatusOK}
			}
			if rest[0] != 0x1F {
				return headerResult{consumed: total, status: nxstream.StatusDataError}
			}
			hs.headerBytes = append(hs.headerBytes, rest[:1]...)
			total++
			hs.phase = hpGzipID2

		case hpGzipID2:
			if len(rest) < 1 {
				return headerResult{consumed: total, status: nxstream.StatusOK}
			}
			if rest[0] != 0x8B {
				return headerResult{consumed: total, status: nxstream.StatusDataError}
			}
			hs.headerBytes = append(hs.headerBytes, rest[:1]...)
			total++
			hs.phase = hpGzipCM

		case hpGzipCM:
			if len(rest) < 1 {
				return headerResult{consumed: total, status: nxstream.StatusOK}
			}
			if rest[0] != 0x08 {
				return headerResult{consumed: total, status: nxstream.StatusDataError}
			}
			hs.headerBytes = append(hs.headerBytes, rest[:1]...)
			total++
			hs.phase = hpGzipFLG

		case hpGzipFLG:
			if len(rest) < 1 {
				return headerResult{consumed: total, status: nxstream.StatusOK}
			}
			hs.flg = rest[0]
			hs.headerBytes = append(hs.headerBytes, rest[:1]...)
			total++

			if (hs.flg & 0xe0) != 0 {
				return headerResult{consumed: total, status: nxstream.StatusDataError}
			}

			hs.phase = hpGzipMTime
			hs.pendingWant = 4
			hs.pending = hs.pending[:0]

		case hpGzipMTime:
			n := takeField(hs, rest)
			total += n
			if !fieldComplete(hs) {
				return headerResult{consumed: total, status: nxstream.StatusOK}
			}
			hs.headerBytes = append(hs.headerBytes, hs.pending...)
			hs.phase = hpGzipXFL

		case hpGzipXFL:
			if len(rest) < 1 {
				return headerResult{consumed: total, status: nxstream.StatusOK}
			}
			hs.headerBytes = append(hs.headerBytes, rest[:1]...)
			total++
			hs.phase = hpGzipOS

		case hpGzipOS:
			if len(rest) < 1 {
				return headerResult{consumed: total, status: nxstream.StatusOK}
			}
			hs.headerBytes = append(hs.headerBytes, rest[:1]...)
			total++
			if hs.flg&gzipFEXTRA != 0 {
				hs.phase = hpGzipXLen
				hs.pendingWant = 2
				hs.pending = hs.pending[:0]
			} else {
				hs.phase = nextAfterExtra(hs)
			}

		case hpGzipXLen:
			n := takeField(hs, rest)
			total += n
			if !fieldComplete(hs) {
				return headerResult{consumed: total, status: nxstream.StatusOK}
			}
			hs.headerBytes = append(hs.headerBytes, hs.pending...)
			hs.extraRemain = int(hs.pending[0]) | int(hs.pending[1])<<8
			hs.phase = hpGzipExtra

		case hpGzipExtra:
			rest2 := data[total:]
			n := hs.extraRemain
			if n > len(rest2) {
				n = len(rest2)
			}
			if n > 0 {
				hs.headerBytes = append(hs.headerBytes, rest2[:n]...)
				total += n
				hs.extraRemain -= n
			}
			if hs.extraRemain > 0 {
				return headerResult{consumed: total, status: nxstream.StatusOK}
			}
			hs.phase = nextAfterExtra(hs)

		case hpGzipName:
			rest2 := data[total:]
			idx := indexByte(rest2, 0)
			if idx < 0 {
				hs.headerBytes = append(hs.headerBytes, rest2...)
				total += len(rest2)
				return headerResult{consumed: total, status: nxstream.StatusOK}
			}
			hs.headerBytes = append(hs.headerBytes, rest2[:idx+1]...)
			total += idx + 1
			hs.phase = nextAfterName(hs)

		case hpGzipComment:
			rest2 := data[total:]
			idx := indexByte(rest2, 0)
			if idx < 0 {
				hs.headerBytes = append(hs.headerBytes, rest2...)
				total += len(rest2)
				return headerResult{consumed: total, status: nxstream.StatusOK}
			}
			hs.headerBytes = append(hs.headerBytes, rest2[:idx+1]...)
			total += idx + 1
			hs.phase = nextAfterComment(hs)

		case hpGzipHCRC:
			if hs.flg&gzipFHCRC == 0 {
				hs.phase = hpDone
				continue
			}
			n := takeField(hs, rest)
			total += n
			if !fieldComplete(hs) {
				return headerResult{consumed: total, status: nxstream.StatusOK}
			}
			hcrc16 := int(hs.pending[0]) | int(hs.pending[1])<<8
			want := checksum.CRC32(hs.headerBytes) & 0xffff
			if hcrc16 != int(want) {
				return headerResult{consumed: total, status: nxstream.StatusDataError}
			}
			hs.phase = hpDone

		case hpZlibCMF:
			if len(rest) < 1 {
				return headerResult{consumed: total, status: nxstream.StatusOK}
			}
			hs.cmf = rest[0]
			total++
			hs.phase = hpZlibFLG

		case hpZlibFLG:
			if len(rest) < 1 {
				return headerResult{consumed: total, status: nxstream.StatusOK}
			}
			flg := rest[0]
			total++

			if (int(hs.cmf)*256+int(flg))%31 != 0 {
				return headerResult{consumed: total, status: nxstream.StatusDataError}
			}
			if hs.cmf&0x0F != 0x08 {
				return headerResult{consumed: total, status: nxstream.StatusDataError}
			}
			if ((hs.cmf >> 4) & 0x0F) >= 8 {
				return headerResult{consumed: total, status: nxstream.StatusDataError}
			}
			hs.flg = flg
			if flg&0x20 != 0 {
				hs.phase = hpZlibDictID
				hs.pendingWant = 4
				hs.pending = hs.pending[:0]
			} else {
				hs.phase = hpDone
			}

		case hpZlibDictID:
			n := takeField(hs, rest)
			total += n
			if !fieldComplete(hs) {
				return headerResult{consumed: total, status: nxstream.StatusOK}
			}
			hs.dictID = uint32(hs.pending[0])<<24 | uint32(hs.pending[1])<<16 |
				uint32(hs.pending[2])<<8 | uint32(hs.pending[3])
			return headerResult{consumed: total, status: nxstream.StatusNeedDict, needDict: true, done: true}

		case hpDone:
			return headerResult{consumed: total, status: nxstream.StatusOK, done: true}
		}
	}

	return headerResult{consumed: total, status: nxstream.StatusOK, done: hs.phase == hpDone}
}

// readyWithoutInput reports whether the state machine can advance
// without consuming another input byte (e.g. skipping the FEXTRA/FNAME/
// FCOMMENT/FHCRC fields entirely when their flag bits are clear).
func readyWithoutInput(hs *headerState) bool {
	switch hs.phase {
	case hpGzipHCRC:
		return hs.flg&gzipFHCRC == 0
	default:
		return false
	}
}

func nextAfterExtra(hs *headerState) headerPhase {
	if hs.flg&gzipFNAME != 0 {
		return hpGzipName
	}
	return nextAfterName(hs)
}

func nextAfterName(hs *headerState) headerPhase {
	if hs.flg&gzipFCOMMENT != 0 {
		return hpGzipComment
	}
	return nextAfterComment(hs)
}

func nextAfterComment(hs *headerState) headerPhase {
	hs.pendingWant = 2
	hs.pending = hs.pending[:0]
	return hpGzipHCRC
}

// takeField appends available bytes from rest into hs.pending until it
// reaches hs.pendingWant, returning how many bytes of rest it consumed.
func takeField(hs *headerState, rest []byte) int {
	need := hs.pendingWant - len(hs.pending)
	n := need
	if n > len(rest) {
		n = len(rest)
	}
	hs.pending = append(hs.pending, rest[:n]...)
	return n
}

func fieldComplete(hs *headerState) bool {
	return len(hs.pending) >= hs.pendingWant
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
