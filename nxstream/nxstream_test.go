package nxstream

import (
	"testing"

	"github.com/libnxz/nxcore/config"
)

func newTestStream() *Stream {
	return New(nil, nil, 0)
}

func TestResetClearsCounters(t *testing.T) {
	s := newTestStream()
	s.Wrap = WrapGzip
	s.TotalIn = 100
	s.TotalOut = 50
	s.TEBC = 3
	s.NeedStoredBlock = 7

	s.Reset()

	if s.TotalIn != 0 || s.TotalOut != 0 || s.TEBC != 0 || s.NeedStoredBlock != 0 {
		t.Fatalf("Reset left stale counters: %+v", s)
	}
	if s.Phase != PhaseInitGzip {
		t.Fatalf("Reset phase = %v, want PhaseInitGzip", s.Phase)
	}
}

func TestResetIsIdempotent(t *testing.T) {
	s := newTestStream()
	s.Wrap = WrapZlib
	s.TotalIn = 42
	s.Reset()
	first := *s
	s.Reset()
	second := *s
	if first.Phase != second.Phase || first.TotalIn != second.TotalIn || first.TEBC != second.TEBC {
		t.Fatalf("second Reset() observably changed stream state")
	}
}

func TestResetKeepPreservesTotals(t *testing.T) {
	s := newTestStream()
	s.TotalIn = 123
	s.TotalOut = 456
	s.TEBC = 5

	s.ResetKeep()

	if s.TotalIn != 123 || s.TotalOut != 456 {
		t.Fatalf("ResetKeep did not preserve totals: in=%d out=%d", s.TotalIn, s.TotalOut)
	}
	if s.TEBC != 0 {
		t.Fatalf("ResetKeep did not clear TEBC")
	}
}

func TestNewSizesFifoOutPerDirection(t *testing.T) {
	cfg := &config.Config{DeflateBufSize: 2 << 20, InflateBufSize: 128 << 10, FifoInSize: 4096}

	deflateStream := New(cfg, nil, cfg.DeflateBufSize)
	if n := deflateStream.FifoOut.Len(); n != cfg.DeflateBufSize {
		t.Fatalf("deflate fifo_out len = %d, want %d", n, cfg.DeflateBufSize)
	}

	inflateStream := New(cfg, nil, cfg.InflateBufSize)
	if n := inflateStream.FifoOut.Len(); n != cfg.InflateBufSize {
		t.Fatalf("inflate fifo_out len = %d, want %d", n, cfg.InflateBufSize)
	}
}

func TestNewFallsBackToDeflateBufSizeWhenUnspecified(t *testing.T) {
	cfg := &config.Config{DeflateBufSize: 2 << 20, FifoInSize: 4096}
	s := New(cfg, nil, 0)
	if n := s.FifoOut.Len(); n != cfg.DeflateBufSize {
		t.Fatalf("fifo_out len = %d, want fallback %d", n, cfg.DeflateBufSize)
	}
}

func TestUpdateHistoryTruncatesToWindow(t *testing.T) {
	s := newTestStream()
	big := make([]byte, HistoryWindow+100)
	for i := range big {
		big[i] = byte(i)
	}
	s.UpdateHistory(big)
	if len(s.History) != HistoryWindow {
		t.Fatalf("History length = %d, want %d", len(s.History), HistoryWindow)
	}
	if s.History[0] != big[100] {
		t.Fatalf("History did not keep the trailing window")
	}
}
