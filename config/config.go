// Package config holds the tunables the surrounding environment-variable
// reader and config-file loader (both out of scope for this module, per
// spec §6/§9) would otherwise inject as globals. Every constructor in
// this module takes an explicit *Config instead of reaching for package
// state, per the "explicit configuration passed to a constructor"
// design note.
package config

import "time"

// Config collects the tunables named by the NX_GZIP_* environment
// variables in spec §6. Each corresponds to one knob the surrounding
// config loader would read from the environment; this module only
// defines the struct and its defaults.
type Config struct {
	// DeviceNum selects which accelerator instance to open (NX_GZIP_DEV_NUM).
	DeviceNum int

	// DeflateBufSize and InflateBufSize size the fifo_out ring for the
	// respective engine (NX_GZIP_DEF_BUF_SIZE / NX_GZIP_INF_BUF_SIZE).
	DeflateBufSize int
	InflateBufSize int

	// FifoInSize sizes the small-input staging ring shared by both engines.
	FifoInSize int

	// Strategy forces a compression strategy (NX_GZIP_STRATEGY), mirroring
	// zlib's Z_DEFAULT_STRATEGY / Z_FIXED / Z_HUFFMAN_ONLY.
	Strategy Strategy

	// PollMax bounds how many times the submit loop polls the status
	// block before giving up (NX_GZIP_CSB_POLL_MAX); zero means use
	// PollTimeout instead.
	PollMax int

	// PollTimeout bounds total wall-clock time spent waiting for a job
	// to complete (default 60s, per spec §5 "Cancellation").
	PollTimeout time.Duration

	// PasteRetries bounds how many times the submission primitive
	// retries a rejected paste before giving up (NX_GZIP_PASTE_RETRIES).
	PasteRetries int

	// PageFaultRetries bounds how many times a job is resubmitted after
	// a page-fault restart, with shrinking input (NX_GZIP_PGFAULT_RETRIES).
	PageFaultRetries int

	// MlockCSB requests the status block be mlock'd (NX_GZIP_MLOCK_CSB).
	// The core only threads this flag through; pinning pages is the
	// surrounding device-handle opener's job.
	MlockCSB bool

	// PageSize is used by the page fault-in (touch) step.
	PageSize int

	// MaxJobBytes caps how much input a single accelerator job may
	// process, mirroring nx_config_t's per_job_len ("less than suspend
	// limit").
	MaxJobBytes int

	// Trace, if non-nil, receives structured submit/DHT/retry events.
	// There is no default sink: installing one is the caller's choice.
	Trace func(Event)
}

// Strategy mirrors zlib's deflate strategy selector.
type Strategy int

const (
	StrategyDefault Strategy = iota
	StrategyFixed
	StrategyHuffmanOnly
)

// Default returns a Config populated with the reference implementation's
// defaults (spec §6): a 60s poll timeout, a paste-retry budget of 5000,
// a very large page-fault retry budget, and buffer sizes matching the
// fifo_in/fifo_out invariants of spec §3.
func Default() *Config {
	return &Config{
		DeviceNum:        0,
		DeflateBufSize:   2 << 20, // 2 MiB
		InflateBufSize:   128 << 10,
		FifoInSize:       128 << 10,
		Strategy:         StrategyDefault,
		PollMax:          0,
		PollTimeout:      60 * time.Second,
		PasteRetries:     5000,
		PageFaultRetries: 1 << 20,
		MlockCSB:         false,
		PageSize:         4096,
		MaxJobBytes:      1 << 20,
	}
}

// EventKind identifies the category of a structured trace event.
type EventKind int

const (
	EventSubmit EventKind = iota
	EventRetryPaste
	EventRetryPageFault
	EventDHTHit
	EventDHTMiss
	EventTimeout
)

// Event is a structured trace record emitted through Config.Trace. It
// replaces the reference implementation's global log file descriptor
// (spec §5 "the global logging descriptor is protected by its own
// mutex") with a caller-supplied function, so there is no process-wide
// logging state in this module.
type Event struct {
	Kind     EventKind
	Function string
	Code     string
	Attempt  int
	Detail   string
}
