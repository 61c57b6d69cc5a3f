package accel

import (
	"bytes"
	"io"
	"sync"

	"github.com/libnxz/nxcore/checksum"

	kflate "github.com/klauspost/compress/flate"
)

// Software is the default in-process Accelerator. The real NX paste/VAS
// transport is explicitly out of scope (spec §1/§6); Software gives the
// rest of this module something real to drive so the engines are
// runnable and testable without hardware. It produces genuine RFC 1951
// DEFLATE bits via github.com/klauspost/compress/flate rather than
// re-deriving a bit-exact hardware emulator.
//
// Compression jobs use a fresh flate.Writer primed with a preset
// dictionary (job's history slice) per job — klauspost's NewWriterDict
// and Flush give us exactly the history-carry and sync-flush-at-block-
// boundary behavior spec §4.6 describes, for free.
//
// Decompression is persistent across a resumed job chain: the first
// FuncDecompress job starts a background goroutine running a single
// flate.Reader for the lifetime of the stream, and FuncDecompressResume
// jobs feed it more compressed bytes and drain more decompressed bytes.
// This sidesteps needing true bit-level sfbt/subc suspend-resume
// bookkeeping (that ABI exists so stateless hardware can suspend
// mid-block; a persistent software decoder does not need to be
// stateless between jobs). See DESIGN.md.
type Software struct {
	level int
}

// NewSoftware returns a Software accelerator using level for its
// internal DEFLATE encoder (ignored for decompression jobs).
func NewSoftware(level int) *Software {
	return &Software{level: level}
}

func (s *Software) Submit(job *Job) (Completion, error) {
	job.Param.Reset()

	switch job.Function {
	case FuncWrap:
		return s.submitWrap(job)
	case FuncDecompress, FuncDecompressResume:
		return s.submitDecompress(job)
	default:
		return s.submitCompress(job)
	}
}

// submitWrap performs a stored-block style raw copy (spec §4.6 step 2):
// no Huffman coding, just a memcpy with its own fresh checksum over the
// copied chunk (the engine combines it into the running total, since
// WRAP does not accept an initial checksum).
func (s *Software) submitWrap(job *Job) (Completion, error) {
	data := job.Input.Bytes(0)
	if job.Param.InHistLen > 0 {
		hist := job.Param.InHistLen * 16
		if hist > len(data) {
			hist = len(data)
		}
		data = data[hist:]
	}

	written := job.Output.Write(data)
	if written < len(data) {
		return Completion{Code: CompletionTargetSpace}, nil
	}

	job.Param.OutSPBC = len(data)
	job.Param.OutTPBC = written
	job.Param.OutTEBC = 0
	job.Param.OutCRC = checksum.CRC32(data)
	job.Param.OutAdler = checksum.Adler32(data)
	return Completion{Code: CompletionOK}, nil
}

func (s *Software) submitCompress(job *Job) (Completion, error) {
	all := job.Input.Bytes(0)
	hist := job.Param.InHistLen * 16
	if hist > len(all) {
		hist = len(all)
	}
	history := all[:hist]
	data := all[hist:]

	level := job.Level
	if level == 0 {
		level = s.level
	}

	var buf bytes.Buffer
	var w *kflate.Writer
	var err error
	if len(history) > 0 {
		w, err = kflate.NewWriterDict(&buf, level, history)
	} else {
		w, err = kflate.NewWriter(&buf, level)
	}
	if err != nil {
		return Completion{Code: CompletionFatal}, err
	}

	if _, err := w.Write(data); err != nil {
		return Completion{Code: CompletionFatal}, err
	}
	// A real COMPRESS_RESUME_* job emits one flush-aligned block per
	// call; Flush (a sync-flush style empty stored block, RFC 1951
	// §3.2.4) is exactly that boundary.
	if err := w.Flush(); err != nil {
		return Completion{Code: CompletionFatal}, err
	}

	produced := buf.Bytes()
	written := job.Output.Write(produced)
	if written < len(produced) {
		return Completion{Code: CompletionTargetSpace}, nil
	}

	job.Param.OutSPBC = len(data)
	job.Param.OutTPBC = written
	job.Param.OutTEBC = 0 // Flush always leaves the output byte-aligned.
	job.Param.OutCRC = checksum.CRC32(data)
	job.Param.OutAdler = checksum.Adler32(data)

	if job.Function.WantsCount() {
		countLZSymbols(data, &job.Param.OutLZCount)
	}

	if written > len(data) {
		return Completion{Code: CompletionExpansion}, nil
	}
	return Completion{Code: CompletionOK}, nil
}

// countLZSymbols populates an LZ literal/length/distance histogram for
// the DHT cache's top-symbol search (spec §4.4/§4.6). klauspost/compress
// does not expose its internal token stream, so this module performs its
// own independent greedy LZ77 scan purely to drive DHT cache bookkeeping;
// the actual compressed bits above come from klauspost's encoder and are
// unaffected by this histogram. See DESIGN.md.
func countLZSymbols(data []byte, counts *[LitLenSize + DistSize]uint32) {
	const (
		minMatch = 3
		maxMatch = 258
		maxDist  = 32768
	)
	type posList []int
	table := make(map[[3]byte]posList, len(data)/4+1)

	i := 0
	for i < len(data) {
		var bestLen, bestDist int
		if i+minMatch <= len(data) {
			var key [3]byte
			copy(key[:], data[i:i+minMatch])
			for _, p := range table[key] {
				if i-p > maxDist {
					continue
				}
				l := matchLen(data, p, i, maxMatch)
				if l > bestLen {
					bestLen = l
					bestDist = i - p
				}
			}
		}

		if bestLen >= minMatch {
			lengthSym := lengthToSymbol(bestLen)
			counts[257+lengthSym]++
			distSym := distanceToSymbol(bestDist)
			counts[LitLenSize+distSym]++

			end := i + bestLen
			for ; i < end; i++ {
				if i+minMatch <= len(data) {
					var key [3]byte
					copy(key[:], data[i:i+minMatch])
					table[key] = append(table[key], i)
				}
			}
		} else {
			counts[data[i]]++
			if i+minMatch <= len(data) {
				var key [3]byte
				copy(key[:], data[i:i+minMatch])
				table[key] = append(table[key], i)
			}
			i++
		}
	}
	counts[256]++ // EOB
}

func matchLen(data []byte, a, b, max int) int {
	n := 0
	for b+n < len(data) && n < max && data[a+n] == data[b+n] {
		n++
	}
	return n
}

// lengthToSymbol maps a match length (3..258) to the offset (0..28) of
// its RFC 1951 length code from 257, so the code itself is 257 plus the
// result; the extra-bits sub-value is ignored since the DHT cache only
// needs the symbol for histogram purposes.
func lengthToSymbol(length int) int {
	lengthBase := []int{3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19, 23, 27, 31, 35, 43, 51, 59, 67, 83, 99, 115, 131, 163, 195, 227, 258}
	for i := len(lengthBase) - 1; i >= 0; i-- {
		if length >= lengthBase[i] {
			return i
		}
	}
	return 0
}

// distanceToSymbol maps a match distance (1..32768) to its RFC 1951
// distance code (0..29).
func distanceToSymbol(dist int) int {
	distBase := []int{1, 2, 3, 4, 5, 7, 9, 13, 17, 25, 33, 49, 65, 97, 129, 193, 257, 385, 513, 769, 1025, 1537, 2049, 3073, 4097, 6145, 8193, 12289, 16385, 24577}
	for i := len(distBase) - 1; i >= 0; i-- {
		if dist >= distBase[i] {
			return i
		}
	}
	return 0
}

// decodeSession is the persistent decoder state for a resumable
// FuncDecompress/FuncDecompressResume job chain, shared across Submit
// calls via Job.Resume.
type decodeSession struct {
	mu       sync.Mutex
	cond     *sync.Cond
	inQueue  [][]byte
	inClosed bool
	waiting  bool

	outBuf  []byte
	outErr  error
	outDone bool

	started bool
	dict    []byte
	crc     uint32
	adler   uint32
}

func newDecodeSession(dict []byte) *decodeSession {
	s := &decodeSession{dict: dict}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// chunkReader adapts decodeSession's input queue to io.Reader for
// flate.Reader, blocking when empty rather than returning a premature EOF.
type chunkReader struct{ s *decodeSession }

func (r chunkReader) Read(p []byte) (int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.inQueue) == 0 && !s.inClosed {
		s.waiting = true
		s.cond.Broadcast()
		s.cond.Wait()
	}
	s.waiting = false

	if len(s.inQueue) == 0 {
		return 0, io.EOF
	}
	chunk := s.inQueue[0]
	n := copy(p, chunk)
	if n < len(chunk) {
		s.inQueue[0] = chunk[n:]
	} else {
		s.inQueue = s.inQueue[1:]
	}
	return n, nil
}

func (s *decodeSession) pushInput(data []byte) {
	if len(data) == 0 {
		return
	}
	s.mu.Lock()
	s.inQueue = append(s.inQueue, append([]byte(nil), data...))
	s.cond.Broadcast()
	s.mu.Unlock()
}

// pushBackOutput restores data to the front of the session's pending
// output, for when a job's output DDL could not hold everything drain
// produced; the next job's drain sees it first instead of losing it.
func (s *decodeSession) pushBackOutput(data []byte) {
	if len(data) == 0 {
		return
	}
	s.mu.Lock()
	buf := make([]byte, len(data)+len(s.outBuf))
	n := copy(buf, data)
	copy(buf[n:], s.outBuf)
	s.outBuf = buf
	s.mu.Unlock()
}

func (s *decodeSession) closeInput() {
	s.mu.Lock()
	s.inClosed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *decodeSession) start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go func() {
		var fr io.ReadCloser
		if len(s.dict) > 0 {
			fr = kflate.NewReaderDict(chunkReader{s}, s.dict)
		} else {
			fr = kflate.NewReader(chunkReader{s})
		}
		buf := make([]byte, 32*1024)
		for {
			n, err := fr.Read(buf)
			if n > 0 {
				s.mu.Lock()
				s.outBuf = append(s.outBuf, buf[:n]...)
				s.cond.Broadcast()
				s.mu.Unlock()
			}
			if err != nil {
				s.mu.Lock()
				if err == io.EOF {
					s.outErr = nil
				} else {
					s.outErr = err
				}
				s.outDone = true
				s.cond.Broadcast()
				s.mu.Unlock()
				return
			}
		}
	}()
}

// drain waits until either target bytes are buffered, the session is
// done (successfully or with an error), or the decoder has consumed all
// currently-queued input and is blocked wanting more.
func (s *decodeSession) drain(target int) (out []byte, done bool, needMore bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if len(s.outBuf) >= target || s.outDone {
			n := target
			if n > len(s.outBuf) || s.outDone {
				n = len(s.outBuf)
			}
			out = s.outBuf[:n]
			s.outBuf = s.outBuf[n:]
			return out, s.outDone && len(s.outBuf) == 0 && n == len(out), false, s.outErr
		}
		if s.waiting && len(s.inQueue) == 0 {
			n := len(s.outBuf)
			out = s.outBuf[:n]
			s.outBuf = s.outBuf[n:]
			return out, false, true, nil
		}
		s.cond.Wait()
	}
}

func (s *Software) submitDecompress(job *Job) (Completion, error) {
	sess, _ := job.Resume.(*decodeSession)
	if sess == nil {
		hist := job.Param.InHistLen * 16
		all := job.Input.Bytes(0)
		if hist > len(all) {
			hist = len(all)
		}
		sess = newDecodeSession(all[:hist])
		job.Resume = sess
		sess.start()
		sess.pushInput(all[hist:])
	} else {
		sess.pushInput(job.Input.Bytes(0))
	}

	target := job.Output.NBytes()
	if target == 0 {
		target = 32 << 10
	}

	out, done, needMore, err := sess.drain(target)
	if err != nil {
		return Completion{Code: CompletionFatal}, err
	}

	written := job.Output.Write(out)
	if written < len(out) {
		// The output DDL couldn't hold everything drain produced; push
		// the undelivered remainder back onto the session so it isn't
		// lost, and report TARGET_SPACE the same way submitWrap and
		// submitCompress do on a short Write.
		sess.pushBackOutput(out[written:])
		return Completion{Code: CompletionTargetSpace}, nil
	}

	job.Param.OutSPBC = len(out) // approximate: bytes produced this job
	job.Param.OutTPBC = written
	job.Param.OutCRC = checksum.CRC32(out)
	job.Param.OutAdler = checksum.Adler32(out)

	if done {
		job.Param.OutSFBT = SFBTFinalEOB
		return Completion{Code: CompletionOK}, nil
	}
	if needMore {
		job.Param.OutSFBT = SFBTBoundaryLow
		return Completion{Code: CompletionPartial}, nil
	}
	// The output target was reached before the stream ended: report a
	// non-final sfbt so this is not read as the final EOB.
	job.Param.OutSFBT = SFBTBoundaryLow
	return Completion{Code: CompletionOK}, nil
}

var _ Accelerator = (*Software)(nil)
