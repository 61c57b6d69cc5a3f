// Package accel models the accelerator job ABI described in spec §6:
// the command block a caller builds (function code, input/output
// descriptor lists, parameter block) and the completion codes a job
// submission can report. The real paste-copy transport and kernel VAS
// window are out of scope (spec §1); Accelerator is the seam their
// driver would implement, and Software is the in-process default that
// makes the rest of this module runnable without real hardware.
package accel

import "github.com/libnxz/nxcore/ddl"

// FunctionCode selects the accelerator operation a Job requests.
type FunctionCode int

const (
	FuncCompressFHT FunctionCode = iota
	FuncCompressDHTCount
	FuncCompressResumeFHT
	FuncCompressResumeFHTCount
	FuncCompressResumeDHT
	FuncCompressResumeDHTCount
	FuncDecompress
	FuncDecompressResume
	FuncWrap
)

func (f FunctionCode) String() string {
	switch f {
	case FuncCompressFHT:
		return "COMPRESS_FHT"
	case FuncCompressDHTCount:
		return "COMPRESS_DHT_COUNT"
	case FuncCompressResumeFHT:
		return "COMPRESS_RESUME_FHT"
	case FuncCompressResumeFHTCount:
		return "COMPRESS_RESUME_FHT_COUNT"
	case FuncCompressResumeDHT:
		return "COMPRESS_RESUME_DHT"
	case FuncCompressResumeDHTCount:
		return "COMPRESS_RESUME_DHT_COUNT"
	case FuncDecompress:
		return "DECOMPRESS"
	case FuncDecompressResume:
		return "DECOMPRESS_RESUME"
	case FuncWrap:
		return "WRAP"
	default:
		return "UNKNOWN"
	}
}

// IsCompress reports whether f is one of the COMPRESS_* function codes.
func (f FunctionCode) IsCompress() bool {
	switch f {
	case FuncCompressFHT, FuncCompressDHTCount, FuncCompressResumeFHT,
		FuncCompressResumeFHTCount, FuncCompressResumeDHT, FuncCompressResumeDHTCount:
		return true
	}
	return false
}

// WantsCount reports whether f is a *_COUNT function code that
// accumulates an LZ symbol histogram into the parameter block.
func (f FunctionCode) WantsCount() bool {
	switch f {
	case FuncCompressDHTCount, FuncCompressResumeFHTCount, FuncCompressResumeDHTCount:
		return true
	}
	return false
}

// CompletionCode classifies how a job submission finished, per spec §4.3.
type CompletionCode int

const (
	// CompletionOK indicates the job completed normally.
	CompletionOK CompletionCode = iota
	// CompletionExpansion is CompletionOK with tpbc > spbc: the caller
	// should note the expansion but otherwise treat it like CompletionOK.
	CompletionExpansion
	// CompletionPartial indicates the engine suspended mid-stream
	// because a soft byte-count limit was hit; sfbt/subc/spbc/tpbc are
	// valid and the caller must resume using them.
	CompletionPartial
	// CompletionTargetSpace indicates the output buffer was too small;
	// the caller should retry with smaller input.
	CompletionTargetSpace
	// CompletionTranslation indicates a page fault occurred; the
	// caller should touch the faulting address and retry.
	CompletionTranslation
	// CompletionHistlenError indicates an invalid history length; fatal.
	CompletionHistlenError
	// CompletionFatal covers any other non-recoverable completion code.
	CompletionFatal
)

func (c CompletionCode) String() string {
	switch c {
	case CompletionOK:
		return "OK"
	case CompletionExpansion:
		return "TPBC_GT_SPBC"
	case CompletionPartial:
		return "DATA_LENGTH_PARTIAL"
	case CompletionTargetSpace:
		return "TARGET_SPACE"
	case CompletionTranslation:
		return "TRANSLATION"
	case CompletionHistlenError:
		return "HISTLEN_ERROR"
	default:
		return "FATAL"
	}
}

// Alphabet sizes for the LZ symbol histogram (spec glossary "LZ count"):
// 286 literal/length codes (0-285, where 256 is EOB) and 30 distance codes.
const (
	LitLenSize = 286
	DistSize   = 30
)

// SFBT (source final block type) values, spec §4.5 step 4.
const (
	SFBTFinalEOB     = 0b0000
	SFBTStoredLow    = 0b1000
	SFBTStoredHigh   = 0b1001
	SFBTFixedLow     = 0b1010
	SFBTFixedHigh    = 0b1011
	SFBTDynamicLow   = 0b1100
	SFBTDynamicHigh  = 0b1101
	SFBTBoundaryLow  = 0b1110
	SFBTBoundaryHigh = 0b1111
)

// ParamBlock is the accelerator's parameter block: the per-job fields
// that travel alongside the request/status blocks (spec §6).
type ParamBlock struct {
	// Input fields.
	InHistLen     int // 16-byte units, bits 0..11 per spec §6
	InCRC         uint32
	InAdler       uint32
	InDHT         []byte // up to 288 bytes of canonical code lengths
	InSubBitCount int
	InSFBT        int
	InRemByteCnt  int

	// Output fields.
	OutSPBC        int
	OutTPBC        int
	OutTEBC        int
	OutSFBT        int
	OutSubBitCount int
	OutRemByteCnt  int
	OutCRC         uint32
	OutAdler       uint32
	OutDHT         []byte
	OutLZCount     [LitLenSize + DistSize]uint32
}

// Reset clears the parameter block's output fields before a new job,
// keeping the struct (and OutLZCount's backing array) allocated.
func (p *ParamBlock) Reset() {
	p.OutSPBC = 0
	p.OutTPBC = 0
	p.OutTEBC = 0
	p.OutSFBT = 0
	p.OutSubBitCount = 0
	p.OutRemByteCnt = 0
	p.OutCRC = 0
	p.OutAdler = 0
	p.OutDHT = nil
	for i := range p.OutLZCount {
		p.OutLZCount[i] = 0
	}
}

// Job is one accelerator command: a function code plus the input/output
// descriptor lists and parameter block it operates over.
type Job struct {
	Function FunctionCode
	Input    *ddl.List
	Output   *ddl.List
	Param    *ParamBlock

	// Level and Strategy steer the software backend's DEFLATE encoder;
	// a real accelerator would not need them (the function code and DHT
	// fully determine its behavior), but the software fallback does.
	Level    int
	Strategy int

	// Resume is an opaque handle an Accelerator implementation may use
	// to carry state across a FuncDecompress/FuncDecompressResume job
	// chain. The caller allocates nothing: the first job in a chain
	// leaves it nil and the backend populates it; the caller's only
	// obligation is to pass the same value back in on every subsequent
	// job for that stream, and clear it when the stream resets. A real
	// hardware backend ignores this field entirely, since its resume
	// state lives in the CSB (sfbt/subc) instead.
	Resume any
}

// Completion is the result handed back from the status block after a
// job finishes or is classified as needing a retry.
type Completion struct {
	Code      CompletionCode
	FaultAddr uintptr
}
