package deflate

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"io"
	"testing"

	"github.com/libnxz/nxcore/nxstream"
)

// runToFinish drives e with payload fed in chunkSize pieces (0 means all
// at once), then a final FINISH call, returning all produced bytes.
func runToFinish(t *testing.T, e *Engine, payload []byte, chunkSize int) []byte {
	t.Helper()
	ctx := context.Background()
	var out bytes.Buffer
	scratch := make([]byte, 8192)

	in := payload
	for len(in) > 0 {
		chunk := in
		if chunkSize > 0 && len(chunk) > chunkSize {
			chunk = chunk[:chunkSize]
		}
		consumed, produced, status, err := e.Deflate(ctx, chunk, scratch, nxstream.NoFlush)
		if err != nil {
			t.Fatalf("Deflate error: %v", err)
		}
		if status == nxstream.StatusStreamError || status == nxstream.StatusDataError {
			t.Fatalf("Deflate reported %v", status)
		}
		out.Write(scratch[:produced])
		in = in[consumed:]
	}

	for {
		_, produced, status, err := e.Deflate(ctx, nil, scratch, nxstream.Finish)
		if err != nil {
			t.Fatalf("Deflate(FINISH) error: %v", err)
		}
		out.Write(scratch[:produced])
		if status == nxstream.StatusStreamEnd {
			break
		}
	}
	return out.Bytes()
}

func TestGzipRoundTripViaStdlib(t *testing.T) {
	payload := []byte("hello, hello! this is a deflate engine test payload.")
	e := NewEngine(nil, nil, nxstream.WrapGzip, 6)
	compressed := runToFinish(t, e, payload, 0)

	r, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("gzip read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %q want %q", got, payload)
	}
}

func TestZlibRoundTripViaStdlib(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefgh"), 2000)
	e := NewEngine(nil, nil, nxstream.WrapZlib, 6)
	compressed := runToFinish(t, e, payload, 4096)

	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		t.Fatalf("zlib.NewReader: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("zlib read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %d bytes want %d", len(got), len(payload))
	}
}

func TestRawDeflateMatchesFlateReader(t *testing.T) {
	payload := []byte("raw deflate, no wrapper framing at all")
	e := NewEngine(nil, nil, nxstream.WrapRaw, 6)
	compressed := runToFinish(t, e, payload, 0)

	r := flate.NewReader(bytes.NewReader(compressed))
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("flate read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %q want %q", got, payload)
	}
}

func TestSmallInputCoalescesUntilFinish(t *testing.T) {
	e := NewEngine(nil, nil, nxstream.WrapRaw, 6)
	ctx := context.Background()
	scratch := make([]byte, 4096)

	consumed, produced, status, err := e.Deflate(ctx, []byte("tiny"), scratch, nxstream.NoFlush)
	if err != nil {
		t.Fatalf("Deflate error: %v", err)
	}
	if consumed != 4 {
		t.Fatalf("consumed = %d, want 4", consumed)
	}
	if produced != 0 {
		t.Fatalf("produced = %d for a small NO_FLUSH write, want 0 (should coalesce)", produced)
	}
	if status != nxstream.StatusOK {
		t.Fatalf("status = %v, want OK", status)
	}
	if e.FifoIn.Used() != 4 {
		t.Fatalf("fifo_in used = %d, want 4", e.FifoIn.Used())
	}
}

func TestZlibDictionaryRoundTrip(t *testing.T) {
	dict := []byte("common preamble text shared across many small messages")
	payload := []byte("common preamble text shared across many small messages is useful")

	e := NewEngine(nil, nil, nxstream.WrapZlib, 6)
	if err := e.SetDictionary(dict); err != nil {
		t.Fatalf("SetDictionary: %v", err)
	}
	compressed := runToFinish(t, e, payload, 0)

	// SetDictionary rounds the dictionary down to a 16-byte multiple
	// (spec §4.6), so the decoder must be primed with e.Dict, the same
	// rounded form the encoder actually used.
	r, err := zlib.NewReaderDict(bytes.NewReader(compressed), e.Dict)
	if err != nil {
		t.Fatalf("zlib.NewReaderDict: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("zlib dict read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("dictionary round trip mismatch: got %q want %q", got, payload)
	}
}

func TestFlushModesUnsupportedReturnStreamError(t *testing.T) {
	e := NewEngine(nil, nil, nxstream.WrapRaw, 6)
	ctx := context.Background()
	_, _, status, err := e.Deflate(ctx, nil, make([]byte, 16), nxstream.Block)
	if err != nil {
		t.Fatalf("Deflate error: %v", err)
	}
	if status != nxstream.StatusStreamError {
		t.Fatalf("status = %v, want StatusStreamError for BLOCK flush", status)
	}
}
