// Package nxstream holds the per-stream state shared by the inflate and
// deflate engines: phase, wrap format, flush mode, the fifo_in/fifo_out
// staging rings, history, dictionary, running checksums, and the
// accelerator handle the engine submits jobs through.
package nxstream

import (
	"github.com/libnxz/nxcore/accel"
	"github.com/libnxz/nxcore/checksum"
	"github.com/libnxz/nxcore/config"
	"github.com/libnxz/nxcore/dht"
	"github.com/libnxz/nxcore/fifo"
)

// Phase is the stream's top-level state, spec §3.
type Phase int

const (
	PhaseInitRaw Phase = iota
	PhaseInitZlib
	PhaseInitGzip
	PhaseHeader
	PhaseDeflating
	PhaseBFinalWritten
	PhaseTrailer
	PhaseDone
	PhaseDataError
)

// Wrap selects the wire format a stream reads or writes.
type Wrap int

const (
	WrapRaw Wrap = iota
	WrapZlib
	WrapGzip
	WrapAuto // inflate only: format is detected from the first byte
)

// FlushMode mirrors zlib's flush argument to deflate()/inflate().
type FlushMode int

const (
	NoFlush FlushMode = iota
	PartialFlush
	SyncFlush
	FullFlush
	Finish
	Block
	Trees
)

// Status is the caller-visible result of an Inflate/Deflate step, spec §7.
type Status int

const (
	StatusOK Status = iota
	StatusStreamEnd
	StatusNeedDict
	StatusStreamError
	StatusDataError
	StatusMemError
	StatusBufError
	StatusVersionError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusStreamEnd:
		return "STREAM_END"
	case StatusNeedDict:
		return "NEED_DICT"
	case StatusStreamError:
		return "STREAM_ERROR"
	case StatusDataError:
		return "DATA_ERROR"
	case StatusMemError:
		return "MEM_ERROR"
	case StatusBufError:
		return "BUF_ERROR"
	default:
		return "VERSION_ERROR"
	}
}

// HistoryWindow is the maximum DEFLATE back-reference window: the
// trailing slice of output that must stay addressable for the next job.
const HistoryWindow = 32 * 1024

// Stream is the coordinator both the inflate and deflate engines embed:
// it owns the fifo rings, the history window, the dictionary, running
// checksums, and the accelerator handle, spec §4.7 ("thin coordinator
// that owns all buffers... and the device handle reference").
type Stream struct {
	Phase     Phase
	Wrap      Wrap
	FlushMode FlushMode

	TotalIn  int64
	TotalOut int64

	FifoIn  *fifo.Ring
	FifoOut *fifo.Ring

	History    []byte // trailing ≤32 KiB window carried into the next job
	HistoryLen int    // bytes/16, spec §6 in_histlen units

	Dict    []byte
	DictLen int
	DictID  uint32

	TEBC int // valid bits in the last output byte, spec §3

	Adler32 uint32
	CRC32   uint32

	LastCompRatio int // inflate only, spec §4.5 step 2, range [1,1000]

	NeedStoredBlock int // deflate only: spbc from a prior TPBC_GT_SPBC job

	Handle *accel.Handle
	DHT    *dht.Cache
	Cfg    *config.Config

	// DecodeResume carries the software backend's persistent decoder
	// session across a resumed job chain (accel.Job.Resume).
	DecodeResume any

	// trailerScratch buffers a gzip/zlib trailer that arrives split
	// across two calls, spec §4.5 "Trailer verification".
	trailerScratch []byte
}

// New returns a Stream ready for deflate_init2/inflate_init2 to finish
// configuring (wrap, level, and so on are set by the caller).
// fifoOutSize sizes fifo_out: callers pass cfg.DeflateBufSize or
// cfg.InflateBufSize depending on which engine they're building, spec
// §3 ("fifo_out: ... ≈2 MiB deflate / 128 KiB inflate").
func New(cfg *config.Config, handle *accel.Handle, fifoOutSize int) *Stream {
	if cfg == nil {
		cfg = config.Default()
	}
	if fifoOutSize <= 0 {
		fifoOutSize = cfg.DeflateBufSize
	}
	return &Stream{
		FifoIn:  fifo.New(cfg.FifoInSize),
		FifoOut: fifo.New(fifoOutSize),
		Handle:  handle,
		DHT:     dht.NewCache(),
		Cfg:     cfg,
	}
}

// Reset restores phase to INIT, clears counters, and keeps the existing
// buffer allocations, spec §3's "Lifecycle": "`*_reset` restores phase
// to INIT, clears counters, keeps allocations".
func (s *Stream) Reset() {
	s.Phase = initPhaseFor(s.Wrap)
	s.TotalIn = 0
	s.TotalOut = 0
	s.TEBC = 0
	s.Adler32 = checksum.Adler32(nil)
	s.CRC32 = checksum.CRC32(nil)
	s.LastCompRatio = 1000
	s.NeedStoredBlock = 0
	s.HistoryLen = 0
	s.History = nil
	s.DecodeResume = nil
	s.trailerScratch = nil
	s.FifoIn.Reset()
	s.FifoOut.Reset()
}

// ResetKeep is Reset but preserves TotalIn/TotalOut, spec §3
// ("`*_reset_keep` preserves `total_*`").
func (s *Stream) ResetKeep() {
	in, out := s.TotalIn, s.TotalOut
	s.Reset()
	s.TotalIn, s.TotalOut = in, out
}

// End releases the stream's resources: fifos, dictionary, DHT cache, and
// the device handle reference, spec §3 ("destroyed by `*_end`, which
// releases fifos, dict, DHT handle, and the device handle").
func (s *Stream) End() {
	s.FifoIn = nil
	s.FifoOut = nil
	s.Dict = nil
	s.DHT = nil
	if s.Handle != nil {
		s.Handle.Release()
		s.Handle = nil
	}
}

func initPhaseFor(w Wrap) Phase {
	switch w {
	case WrapZlib:
		return PhaseInitZlib
	case WrapGzip:
		return PhaseInitGzip
	default:
		return PhaseInitRaw
	}
}

// TrailerScratch returns the stream's scratch buffer for a trailer that
// arrives split across two inflate calls.
func (s *Stream) TrailerScratch() []byte { return s.trailerScratch }

// AppendTrailerScratch appends to the trailer scratch buffer.
func (s *Stream) AppendTrailerScratch(b []byte) {
	s.trailerScratch = append(s.trailerScratch, b...)
}

// ClearTrailerScratch empties the trailer scratch buffer.
func (s *Stream) ClearTrailerScratch() { s.trailerScratch = s.trailerScratch[:0] }

// UpdateHistory records the trailing ≤32 KiB of data as the window for
// the next job, spec §3's history invariant.
func (s *Stream) UpdateHistory(data []byte) {
	if len(data) > HistoryWindow {
		data = data[len(data)-HistoryWindow:]
	}
	s.History = append(s.History[:0], data...)
	s.HistoryLen = len(s.History) / 16
}
