// Package ddl implements the scatter/gather descriptor list (DDE/DDL)
// that the accelerator job submitter uses to describe input and output
// buffers: either a single direct (address, length) segment, or an
// indirect list of up to 256 such segments.
package ddl

import "fmt"

// MaxElements is the largest number of direct elements an indirect list
// may hold before EXCESSIVE_DDE is reported.
const MaxElements = 256

// Segment is one direct data descriptor element: a contiguous byte range.
type Segment struct {
	Addr []byte
}

// Len returns the number of bytes in the segment.
func (s Segment) Len() int { return len(s.Addr) }

// List is a data descriptor list (DDL): either empty, a single direct
// element, or an indirect list of direct elements. It mirrors the NX
// DDE data model in which a list starts direct and is promoted to
// indirect on its second append.
type List struct {
	direct   Segment
	indirect []Segment
	isDirect bool
	count    int // 0, 1 (direct), or len(indirect) once promoted
	nbytes   int
}

// ErrExcessiveDDE is returned by Append when adding a segment would
// exceed MaxElements.
type ErrExcessiveDDE struct{ Count int }

func (e *ErrExcessiveDDE) Error() string {
	return fmt.Sprintf("ddl: excessive dde count %d exceeds max %d", e.Count, MaxElements)
}

// ErrSegmented is returned when a child element is itself indirect;
// nested (depth > 1) descriptor lists are not supported.
var ErrSegmented = fmt.Errorf("ddl: segmented dde (depth > 1) not supported")

// Clear resets the list to its empty, direct-form state.
func (l *List) Clear() {
	l.direct = Segment{}
	l.indirect = l.indirect[:0]
	l.isDirect = true
	l.count = 0
	l.nbytes = 0
}

// Append adds a (addr) segment to the list. The first append stores a
// direct element; the second promotes the list to indirect form, moving
// the existing element to slot 1 and the new one to slot 2; subsequent
// appends grow the indirect list.
func (l *List) Append(addr []byte) error {
	if l.count == 0 {
		l.direct = Segment{Addr: addr}
		l.isDirect = true
		l.count = 1
		l.nbytes += len(addr)
		return nil
	}

	if l.isDirect {
		// Promote: move the single direct element into slot 1.
		l.indirect = append(l.indirect[:0], l.direct, Segment{Addr: addr})
		l.direct = Segment{}
		l.isDirect = false
		l.count = 2
		l.nbytes += len(addr)
		return nil
	}

	if len(l.indirect)+1 > MaxElements {
		return &ErrExcessiveDDE{Count: len(l.indirect) + 1}
	}
	l.indirect = append(l.indirect, Segment{Addr: addr})
	l.count = len(l.indirect)
	l.nbytes += len(addr)
	return nil
}

// Count returns the number of segments currently held.
func (l *List) Count() int { return l.count }

// Write scatters data across the list's segments in order, stopping when
// either data or the aggregate segment capacity is exhausted. It returns
// the number of bytes actually written; n < len(data) signals the list's
// segments were too small to hold the job's output (the TARGET_SPACE
// condition of spec §4.3).
func (l *List) Write(data []byte) int {
	segs := l.Segments()
	written := 0
	for _, s := range segs {
		if written >= len(data) {
			break
		}
		n := copy(s.Addr, data[written:])
		written += n
		if n < len(s.Addr) {
			// This segment wasn't filled, so data ran out; no point
			// continuing to the next segment.
			break
		}
	}
	return written
}

// NBytes returns the aggregate byte count of all segments appended so far.
func (l *List) NBytes() int { return l.nbytes }

// Segments returns the list's segments in order. The returned slice must
// not be retained across the next Clear/Append.
func (l *List) Segments() []Segment {
	if l.count == 0 {
		return nil
	}
	if l.isDirect {
		return []Segment{l.direct}
	}
	return l.indirect
}

// Bytes concatenates and returns the bytes covered by limit (or the full
// aggregate if limit is 0), following the rule that an indirect list's
// effective byte count is the lesser of the header's declared byte count
// and the sum of its children — the engine never reads past limit even
// if the children hold more.
func (l *List) Bytes(limit int) []byte {
	segs := l.Segments()
	total := l.nbytes
	if limit > 0 && limit < total {
		total = limit
	}
	out := make([]byte, 0, total)
	remaining := total
	for _, s := range segs {
		if remaining <= 0 {
			break
		}
		n := len(s.Addr)
		if n > remaining {
			n = remaining
		}
		out = append(out, s.Addr[:n]...)
		remaining -= n
	}
	return out
}

// Touch faults in the pages covered by the first limit bytes of the list
// (or the full aggregate if limit is 0) by reading, and rewriting when
// writable is true, one byte per pageSize-aligned page plus the final
// byte of the range. This models the accelerator's page-fault policy:
// pages referenced by a submitted job must be resident, since the
// hardware walks user-space page tables directly.
func (l *List) Touch(limit int, pageSize int, writable bool) {
	if pageSize <= 0 {
		pageSize = 4096
	}
	segs := l.Segments()
	total := l.nbytes
	if limit > 0 && limit < total {
		total = limit
	}

	remaining := total
	for _, s := range segs {
		if remaining <= 0 {
			break
		}
		n := len(s.Addr)
		if n > remaining {
			n = remaining
		}
		touchRange(s.Addr[:n], pageSize, writable)
		remaining -= n
	}
}

func touchRange(buf []byte, pageSize int, writable bool) {
	if len(buf) == 0 {
		return
	}
	for off := 0; off < len(buf); off += pageSize {
		b := buf[off]
		if writable {
			buf[off] = b
		}
	}
	last := len(buf) - 1
	b := buf[last]
	if writable {
		buf[last] = b
	}
}
