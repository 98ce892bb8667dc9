package d21

import (
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultAckRetries bounds the BUSY polling after erase and program commands.
	DefaultAckRetries = 20000
	// DefaultReadRetries bounds the replies accepted for one debug read.
	DefaultReadRetries = 1000
)

type ProgressPhase int

const (
	PhaseErasing ProgressPhase = iota
	PhaseProgramming
	PhaseReading
)

func (p ProgressPhase) String() string {
	switch p {
	case PhaseErasing:
		return "Erasing"
	case PhaseProgramming:
		return "Programming"
	case PhaseReading:
		return "Verifying"
	}
	return "Unknown"
}

// Progress is reported once per erase poll, data chunk and debug read. Total is -1
// while erasing, the number of polls is unbounded until the device answers.
type Progress struct {
	Phase   ProgressPhase
	Blob    BlobID
	Current int
	Total   int
	Done    bool
}

type ProgressFunc func(p Progress)

type config struct {
	logger      log.FieldLogger
	ackRetries  int
	readRetries int
	progress    ProgressFunc
	showInOut   bool
}

func defaultConfig() config {
	return config{
		logger:      log.StandardLogger(),
		ackRetries:  DefaultAckRetries,
		readRetries: DefaultReadRetries,
	}
}

// Option configures a Session.
type Option func(*config)

func WithLogger(l log.FieldLogger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithAckRetries sets the number of ACK polls before an erase gives up with ErrTimeout.
func WithAckRetries(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.ackRetries = n
		}
	}
}

func WithReadRetries(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.readRetries = n
		}
	}
}

func WithProgress(fn ProgressFunc) Option {
	return func(c *config) {
		c.progress = fn
	}
}

// WithShowInOut traces every outgoing and incoming report.
func WithShowInOut(show bool) Option {
	return func(c *config) {
		c.showInOut = show
	}
}
