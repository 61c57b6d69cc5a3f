// Package inflate implements the decompression engine: gzip/zlib/raw
// header parsing, the resumable job loop that drives an
// accel.Accelerator, and trailer verification. It operates on an
// nxstream.Stream the same way the deflate engine does, spec §4.5.
package inflate

import (
	"context"
	"fmt"

	"github.com/libnxz/nxcore/accel"
	"github.com/libnxz/nxcore/checksum"
	"github.com/libnxz/nxcore/config"
	"github.com/libnxz/nxcore/ddl"
	"github.com/libnxz/nxcore/nxstream"
)

// Engine is one inflate stream: an nxstream.Stream plus the header
// parser's carried-over state.
type Engine struct {
	*nxstream.Stream
	hs headerState
}

// NewEngine returns an Engine ready to inflate wrap-format data. If
// handle is nil, a private Software-backed handle is opened.
func NewEngine(cfg *config.Config, handle *accel.Handle, wrap nxstream.Wrap) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if handle == nil {
		handle = accel.NewHandle(accel.NewSoftware(6), cfg)
	}
	s := nxstream.New(cfg, handle, cfg.InflateBufSize)
	s.Wrap = wrap
	e := &Engine{Stream: s}
	e.Reset()
	return e
}

// Reset restores the engine to its initial state, spec §3's reset
// contract, and re-arms the header parser for e.Wrap.
func (e *Engine) Reset() {
	e.Stream.Reset()
	e.hs = headerState{}
	switch e.Wrap {
	case nxstream.WrapGzip:
		e.hs.phase = hpGzipID1
	case nxstream.WrapZlib:
		e.hs.phase = hpZlibCMF
	case nxstream.WrapAuto:
		e.hs.phase = hpAuto
	default:
		e.hs.phase = hpDone
		e.Phase = nxstream.PhaseDeflating
	}
}

// SetDictionary supplies the preset dictionary after a StatusNeedDict
// result, verifying it against the DICTID read from the zlib header,
// spec §4.5/§6 (dict_id = Adler32(dict)).
func (e *Engine) SetDictionary(dict []byte) error {
	id := checksum.Adler32(dict)
	if e.DictID != 0 && id != e.DictID {
		return fmt.Errorf("inflate: dictionary does not match header DICTID")
	}
	e.Dict = append(e.Dict[:0], dict...)
	e.DictLen = len(e.Dict)
	e.UpdateHistory(e.Dict)
	e.Phase = nxstream.PhaseDeflating
	return nil
}

// Inflate decompresses as much of in into out as one call allows,
// returning how many input bytes were consumed, how many output bytes
// were produced, and the resulting status, spec §7. Per spec §8's
// boundary behaviors: avail_in==0 with no pending work returns OK with
// no progress, and avail_out==0 returns OK until output space is
// available.
func (e *Engine) Inflate(ctx context.Context, in []byte, out []byte) (consumed, produced int, status nxstream.Status, err error) {
	if e.Phase == nxstream.PhaseDataError {
		return 0, 0, nxstream.StatusDataError, nil
	}
	if e.Phase == nxstream.PhaseDone {
		return 0, 0, nxstream.StatusStreamEnd, nil
	}

	if e.Phase == nxstream.PhaseInitRaw || e.Phase == nxstream.PhaseInitZlib ||
		e.Phase == nxstream.PhaseInitGzip || e.Phase == nxstream.PhaseHeader {
		e.Phase = nxstream.PhaseHeader
		res := stepHeader(e.Stream, &e.hs, in)
		consumed += res.consumed
		e.TotalIn += int64(res.consumed)
		in = in[res.consumed:]

		if res.status == nxstream.StatusDataError {
			e.Phase = nxstream.PhaseDataError
			return consumed, 0, nxstream.StatusDataError, nil
		}
		if res.needDict {
			e.DictID = e.hs.dictID
			return consumed, 0, nxstream.StatusNeedDict, nil
		}
		if !res.done {
			return consumed, 0, nxstream.StatusOK, nil
		}
		e.Phase = nxstream.PhaseDeflating
	}

	if e.Phase == nxstream.PhaseDeflating {
		n, m, st, derr := e.decodeBody(ctx, in, out)
		consumed += n
		produced += m
		if derr != nil {
			return consumed, produced, st, derr
		}
		in = in[n:]
		if st != nxstream.StatusStreamEnd {
			return consumed, produced, st, nil
		}
		e.Phase = nxstream.PhaseTrailer
	}

	if e.Phase == nxstream.PhaseTrailer {
		n, st := e.verifyTrailer(in)
		consumed += n
		e.TotalIn += int64(n)
		switch st {
		case nxstream.StatusOK:
			return consumed, produced, nxstream.StatusOK, nil
		case nxstream.StatusDataError:
			e.Phase = nxstream.PhaseDataError
			return consumed, produced, st, nil
		default:
			e.Phase = nxstream.PhaseDone
			return consumed, produced, nxstream.StatusStreamEnd, nil
		}
	}

	return consumed, produced, nxstream.StatusOK, nil
}

// decodeBody submits one DECOMPRESS/DECOMPRESS_RESUME job, spec §4.5
// steps 2-4: the first job of a chain primes the accelerator's history
// window, every job folds its chunk checksum into the stream's running
// Adler-32/CRC-32 via the checksum combine operators rather than
// rehashing everything produced so far.
func (e *Engine) decodeBody(ctx context.Context, in, out []byte) (consumed, produced int, status nxstream.Status, err error) {
	if len(out) == 0 {
		return 0, 0, nxstream.StatusOK, nil
	}
	if e.Cfg.MaxJobBytes > 0 && len(in) > e.Cfg.MaxJobBytes {
		// nx_config_t's per_job_len: cap how much input one job chews
		// through, same as the deflate side's compressAll chunking.
		in = in[:e.Cfg.MaxJobBytes]
	}

	var input ddl.List
	histLen := 0
	function := accel.FuncDecompress
	if e.DecodeResume != nil {
		function = accel.FuncDecompressResume
	} else if len(e.History) > 0 {
		input.Append(e.History)
		histLen = e.HistoryLen
	}
	if len(in) > 0 {
		input.Append(in)
	}

	var output ddl.List
	output.Append(out)

	job := &accel.Job{
		Function: function,
		Input:    &input,
		Output:   &output,
		Param:    &accel.ParamBlock{InHistLen: histLen},
		Resume:   e.DecodeResume,
	}

	comp, err := e.Handle.RunJob(ctx, job)
	if err != nil {
		e.Phase = nxstream.PhaseDataError
		return 0, 0, nxstream.StatusStreamError, err
	}
	e.DecodeResume = job.Resume

	written := job.Param.OutTPBC
	produced = written
	consumed = len(in)
	e.TotalIn += int64(consumed)
	e.TotalOut += int64(written)
	e.CRC32 = checksum.CRCCombine(e.CRC32, job.Param.OutCRC, int64(written))
	e.Adler32 = checksum.AdlerCombine(e.Adler32, job.Param.OutAdler, int64(written))
	if written > 0 {
		e.UpdateHistory(out[:written])
	}

	switch comp.Code {
	case accel.CompletionOK:
		if job.Param.OutSFBT == accel.SFBTFinalEOB {
			return consumed, produced, nxstream.StatusStreamEnd, nil
		}
		return consumed, produced, nxstream.StatusOK, nil
	case accel.CompletionPartial:
		return consumed, produced, nxstream.StatusOK, nil
	case accel.CompletionTargetSpace:
		return 0, 0, nxstream.StatusOK, nil
	default:
		e.Phase = nxstream.PhaseDataError
		return consumed, produced, nxstream.StatusDataError, nil
	}
}

// verifyTrailer consumes the wrap format's trailer (gzip: CRC-32 +
// ISIZE, zlib: Adler-32, raw: none), buffering a short read across
// calls in the stream's trailer scratch, spec §4.5 "Trailer
// verification".
func (e *Engine) verifyTrailer(in []byte) (int, nxstream.Status) {
	switch e.Wrap {
	case nxstream.WrapGzip:
		return e.fixedTrailer(in, 8, func(b []byte) nxstream.Status {
			crc := le32(b[0:4])
			isize := le32(b[4:8])
			if crc != e.CRC32 || isize != uint32(e.TotalOut) {
				return nxstream.StatusDataError
			}
			return nxstream.StatusStreamEnd
		})
	case nxstream.WrapZlib:
		return e.fixedTrailer(in, 4, func(b []byte) nxstream.Status {
			adler := be32(b[0:4])
			if adler != e.Adler32 {
				return nxstream.StatusDataError
			}
			return nxstream.StatusStreamEnd
		})
	default:
		return 0, nxstream.StatusStreamEnd
	}
}

func (e *Engine) fixedTrailer(in []byte, want int, check func([]byte) nxstream.Status) (int, nxstream.Status) {
	need := want - len(e.TrailerScratch())
	n := need
	if n > len(in) {
		n = len(in)
	}
	if n > 0 {
		e.AppendTrailerScratch(in[:n])
	}
	if len(e.TrailerScratch()) < want {
		return n, nxstream.StatusOK
	}
	status := check(e.TrailerScratch())
	e.ClearTrailerScratch()
	return n, status
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
