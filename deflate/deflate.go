// Package deflate implements the compression engine: gzip/zlib/raw
// header emission, the resumable block-submission loop that drives an
// accel.Accelerator and the dht cache, flush alignment, and trailer
// emission, spec §4.6.
package deflate

import (
	"context"
	"fmt"

	"github.com/libnxz/nxcore/accel"
	"github.com/libnxz/nxcore/checksum"
	"github.com/libnxz/nxcore/config"
	"github.com/libnxz/nxcore/ddl"
	"github.com/libnxz/nxcore/dht"
	"github.com/libnxz/nxcore/nxstream"
)

// smallInputThreshold is the coalescing limit of spec §4.6 step 1: input
// smaller than this (and not a flush/dictionary call) is staged in
// fifo_in rather than spent on an accelerator job.
const smallInputThreshold = 10 * 1024

// maxStoredBlock is the largest single WRAP (stored-block copy) job,
// spec §4.6 step 2 ("up to 32 KiB of input per block").
const maxStoredBlock = 32 * 1024

// Engine is one deflate stream: an nxstream.Stream plus header/DHT
// bookkeeping that must persist across calls.
type Engine struct {
	*nxstream.Stream
	level         int
	headerWritten bool
	dhtPrimed     bool // true once the first DEFAULT lookup has happened
	finished      bool // trailer emitted, draining final bytes to the caller
}

// NewEngine returns an Engine ready to deflate into wrap-format data. If
// handle is nil, a private Software-backed handle is opened at level.
func NewEngine(cfg *config.Config, handle *accel.Handle, wrap nxstream.Wrap, level int) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if handle == nil {
		handle = accel.NewHandle(accel.NewSoftware(level), cfg)
	}
	s := nxstream.New(cfg, handle, cfg.DeflateBufSize)
	s.Wrap = wrap
	e := &Engine{Stream: s, level: level}
	e.Reset()
	return e
}

// Reset restores the engine to its initial state, spec §3's reset contract.
func (e *Engine) Reset() {
	e.Stream.Reset()
	e.headerWritten = false
	e.dhtPrimed = false
	e.finished = false
}

// SetDictionary installs d as the initial history window, spec §4.6
// "Dictionary": the last ≤32 KiB of d, rounded down to a 16-byte
// multiple, and records dict_id = Adler32(d) for the zlib header's
// FDICT field. Only valid before the header has been emitted (zlib
// wrap) or at a block boundary with drained buffers (raw wrap).
func (e *Engine) SetDictionary(d []byte) error {
	if e.Wrap == nxstream.WrapZlib && e.headerWritten {
		return fmt.Errorf("deflate: dictionary must be set before the header is emitted")
	}
	if e.Wrap == nxstream.WrapRaw && (e.FifoIn.Used() > 0 || e.FifoOut.Used() > 0) {
		return fmt.Errorf("deflate: dictionary requires drained buffers")
	}

	limit := nxstream.HistoryWindow - 272
	if len(d) > limit {
		d = d[len(d)-limit:]
	}
	d = d[:len(d)/16*16]

	e.DictID = checksum.Adler32(d)
	e.Dict = append(e.Dict[:0], d...)
	e.DictLen = len(e.Dict)
	e.UpdateHistory(e.Dict)
	return nil
}

// Deflate compresses as much of in as one call allows, writing produced
// bytes (header, compressed blocks, flush markers, and on FINISH the
// trailer) into out. It returns how many input bytes were consumed, how
// many output bytes were produced, and the resulting status, spec §7.
func (e *Engine) Deflate(ctx context.Context, in []byte, out []byte, flush nxstream.FlushMode) (consumed, produced int, status nxstream.Status, err error) {
	if e.Phase == nxstream.PhaseDataError {
		return 0, 0, nxstream.StatusDataError, nil
	}
	if flush == nxstream.Block || flush == nxstream.Trees {
		e.Phase = nxstream.PhaseDataError
		return 0, 0, nxstream.StatusStreamError, nil
	}
	e.FlushMode = flush

	produced = e.drainStaged(out)
	if e.FifoOut.Used() > 0 {
		return 0, produced, nxstream.StatusOK, nil
	}
	out = out[produced:]

	if e.finished {
		if produced > 0 {
			return 0, produced, nxstream.StatusOK, nil
		}
		e.Phase = nxstream.PhaseDone
		return 0, 0, nxstream.StatusStreamEnd, nil
	}

	if !e.headerWritten {
		if err := e.stage(e.buildHeader()); err != nil {
			e.Phase = nxstream.PhaseDataError
			return 0, produced, nxstream.StatusMemError, err
		}
		e.headerWritten = true
		n := e.drainStaged(out)
		produced += n
		out = out[n:]
		if e.FifoOut.Used() > 0 {
			return 0, produced, nxstream.StatusOK, nil
		}
	}
	e.Phase = nxstream.PhaseDeflating

	if flush == nxstream.NoFlush && len(e.Dict) == 0 &&
		len(in)+e.FifoIn.Used() < smallInputThreshold {
		if werr := e.FifoIn.Write(in); werr == nil {
			e.TotalIn += int64(len(in))
			return len(in), produced, nxstream.StatusOK, nil
		}
	}

	combined := append(append([]byte(nil), e.FifoIn.Bytes()...), in...)
	e.FifoIn.Consume(e.FifoIn.Used())
	consumed = len(in)
	e.TotalIn += int64(len(in))

	if len(combined) > 0 {
		if cerr := e.compressAll(ctx, combined); cerr != nil {
			e.Phase = nxstream.PhaseDataError
			return consumed, produced, nxstream.StatusDataError, cerr
		}
	}

	switch flush {
	case nxstream.SyncFlush, nxstream.FullFlush:
		e.appendSyncFlush()
	case nxstream.PartialFlush:
		e.appendSyncFlush()
		e.appendPartialFlush()
	}

	if flush == nxstream.Finish {
		e.appendFinalBlock()
		e.stage(e.buildTrailer())
		e.finished = true
		e.Phase = nxstream.PhaseTrailer
	}

	n := e.drainStaged(out)
	produced += n
	if e.FifoOut.Used() == 0 && e.finished {
		e.Phase = nxstream.PhaseDone
		return consumed, produced, nxstream.StatusStreamEnd, nil
	}
	return consumed, produced, nxstream.StatusOK, nil
}

func (e *Engine) stage(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := e.FifoOut.Write(data); err != nil {
		return err
	}
	return nil
}

func (e *Engine) drainStaged(out []byte) int {
	n := copy(out, e.FifoOut.Bytes())
	e.FifoOut.Consume(n)
	return n
}

// compressAll submits data as a sequence of accelerator jobs, handling
// the TPBC_GT_SPBC (expansion) fallback to stored blocks, spec §4.6
// steps 2-6. Each call processes the whole of data in at most
// maxStoredBlock-sized pieces when falling back to stored blocks, or in
// at most e.Cfg.MaxJobBytes-sized pieces per COMPRESS_RESUME_* job
// otherwise (nx_config_t's per_job_len, "less than suspend limit").
func (e *Engine) compressAll(ctx context.Context, data []byte) error {
	for len(data) > 0 {
		if e.NeedStoredBlock > 0 || e.level == 0 {
			n := len(data)
			if n > maxStoredBlock {
				n = maxStoredBlock
			}
			if err := e.submitStored(ctx, data[:n]); err != nil {
				return err
			}
			data = data[n:]
			e.NeedStoredBlock = 0
			continue
		}

		chunk := data
		if e.Cfg.MaxJobBytes > 0 && len(chunk) > e.Cfg.MaxJobBytes {
			chunk = chunk[:e.Cfg.MaxJobBytes]
		}

		expanded, err := e.submitCompressed(ctx, chunk)
		if err != nil {
			return err
		}
		if expanded {
			continue // need_stored_block now set; retry this data as stored
		}
		data = data[len(chunk):]
	}
	return nil
}

func (e *Engine) submitStored(ctx context.Context, data []byte) error {
	hist := e.historySlice()

	var input, output ddl.List
	if len(hist) > 0 {
		input.Append(hist)
	}
	input.Append(data)

	buf := make([]byte, len(data)+64)
	output.Append(buf)

	job := &accel.Job{
		Function: accel.FuncWrap,
		Input:    &input,
		Output:   &output,
		Param:    &accel.ParamBlock{InHistLen: len(hist) / 16},
	}
	comp, err := e.Handle.RunJob(ctx, job)
	if err != nil {
		return err
	}
	if comp.Code != accel.CompletionOK {
		return fmt.Errorf("deflate: stored-block WRAP job failed: %v", comp.Code)
	}

	copied := buf[:job.Param.OutTPBC]
	block := encodeStoredBlock(copied, false)
	if err := e.stage(block); err != nil {
		return err
	}

	e.TotalOut += int64(len(block))
	e.CRC32 = checksum.CRCCombine(e.CRC32, job.Param.OutCRC, int64(len(copied)))
	e.Adler32 = checksum.AdlerCombine(e.Adler32, job.Param.OutAdler, int64(len(copied)))
	e.UpdateHistory(copied)
	return nil
}

// submitCompressed issues one COMPRESS_RESUME_FHT or
// COMPRESS_RESUME_DHT_COUNT job over all of data, spec §4.6 step 3. It
// reports expanded=true (and sets NeedStoredBlock) on TPBC_GT_SPBC, spec
// step 4, leaving data uncompressed for the caller to resubmit as a
// stored block.
func (e *Engine) submitCompressed(ctx context.Context, data []byte) (expanded bool, err error) {
	hist := e.historySlice()

	var input, output ddl.List
	if len(hist) > 0 {
		input.Append(hist)
	}
	input.Append(data)

	buf := make([]byte, len(data)+len(data)/4+256)
	output.Append(buf)

	function := accel.FuncCompressResumeFHT
	var lookupTable dht.Table
	if e.Cfg.Strategy != config.StrategyFixed {
		function = accel.FuncCompressResumeDHTCount
		lookupTable = e.lookupDHT()
	}

	job := &accel.Job{
		Function: function,
		Input:    &input,
		Output:   &output,
		Param: &accel.ParamBlock{
			InHistLen: len(hist) / 16,
			InDHT:     lookupTable.Bytes,
		},
		Level:    e.level,
		Strategy: int(e.Cfg.Strategy),
	}
	comp, err := e.Handle.RunJob(ctx, job)
	if err != nil {
		return false, err
	}

	switch comp.Code {
	case accel.CompletionOK, accel.CompletionExpansion:
		if comp.Code == accel.CompletionExpansion {
			// Discard the expanded output; the caller redoes data as stored.
			e.NeedStoredBlock = job.Param.OutSPBC
			return true, nil
		}
		produced := buf[:job.Param.OutTPBC]
		if err := e.stage(produced); err != nil {
			return false, err
		}
		e.TotalOut += int64(len(produced))
		e.Adler32 = checksum.AdlerCombine(e.Adler32, job.Param.OutAdler, int64(len(data)))
		e.CRC32 = checksum.CRCCombine(e.CRC32, job.Param.OutCRC, int64(len(data)))
		e.TEBC = job.Param.OutTEBC
		e.UpdateHistory(data)
		if job.Function == accel.FuncCompressResumeDHTCount {
			e.DHT.Lookup(dht.RequestGen, &job.Param.OutLZCount)
		}
		if job.Param.OutSPBC > 0 {
			ratio := 1000 * job.Param.OutSPBC / maxInt(job.Param.OutTPBC, 1)
			e.LastCompRatio = clamp(ratio, 1, 1000)
		}
		return false, nil
	case accel.CompletionTargetSpace:
		e.NeedStoredBlock = len(data)
		return true, nil
	default:
		return false, fmt.Errorf("deflate: compress job failed: %v", comp.Code)
	}
}

// lookupDHT issues the DEFAULT request on the first dynamic block of the
// stream and SEARCH on every subsequent one, spec §4.6 step 3.
func (e *Engine) lookupDHT() dht.Table {
	req := dht.RequestSearch
	if !e.dhtPrimed {
		req = dht.RequestDefault
		e.dhtPrimed = true
	}
	var zero [dht.LitLenSize + dht.DistSize]uint32
	return e.DHT.Lookup(req, &zero)
}

// historySlice returns the ≤32 KiB trailing window to prepend as
// in_histlen: the stream's carried-over History, trimmed at the front to
// a 16-byte multiple so all of it is covered by in_histlen's 16-byte units.
func (e *Engine) historySlice() []byte {
	h := e.History
	return h[len(h)%16:]
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
