package eventbus

import (
	"fmt"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	// DefaultBufferSize dictates the size of the async worker queue when
	// [BufferSize] isn't given. Submissions beyond the buffer spill to a
	// dedicated goroutine rather than blocking the poster.
	DefaultBufferSize = 16
	// DefaultNumWorkers dictates the number of async worker goroutines when
	// [NumWorkers] isn't given.
	DefaultNumWorkers = 4
)

type busConf struct {
	name       string
	bufferSize int
	numWorkers int
	scanner    Scanner
	sink       Sink
	logger     *zap.Logger
	registerer prometheus.Registerer
}

func defaultConf() busConf {
	return busConf{
		name:       "eventbus",
		bufferSize: DefaultBufferSize,
		numWorkers: DefaultNumWorkers,
		scanner:    DeclaredScanner{},
		logger:     zap.NewNop(),
	}
}

// BusOpt configures a [Bus] during [New] or [InitInstance].
type BusOpt func(conf *busConf) error

// BufferSize overrides [DefaultBufferSize] for this bus.
func BufferSize(size int) BusOpt {
	return func(conf *busConf) error {
		if size < 1 {
			return fmt.Errorf("buffer size must be >= 1, got %d", size)
		}
		conf.bufferSize = size
		return nil
	}
}

// NumWorkers overrides [DefaultNumWorkers] for this bus.
func NumWorkers(workers int) BusOpt {
	return func(conf *busConf) error {
		if workers < 1 {
			return fmt.Errorf("worker count must be >= 1, got %d", workers)
		}
		conf.numWorkers = workers
		return nil
	}
}

// WithName sets the bus name used in log fields and metric labels.
func WithName(name string) BusOpt {
	return func(conf *busConf) error {
		if len(name) == 0 {
			return fmt.Errorf("bus name must not be empty")
		}
		conf.name = name
		return nil
	}
}

// WithScanner replaces the default [DeclaredScanner] used by [Bus.Register].
func WithScanner(scanner Scanner) BusOpt {
	return func(conf *busConf) error {
		if scanner == nil {
			return fmt.Errorf("scanner must not be nil")
		}
		conf.scanner = scanner
		return nil
	}
}

// WithAffinitySink routes [Affinity] callbacks to an external single-goroutine
// executor instead of the bus's built-in one. The sink must preserve
// submission order for work submitted from the same goroutine.
func WithAffinitySink(sink Sink) BusOpt {
	return func(conf *busConf) error {
		if sink == nil {
			return fmt.Errorf("affinity sink must not be nil")
		}
		conf.sink = sink
		return nil
	}
}

// WithLogger sets the logger for diagnostics. The default discards everything.
func WithLogger(logger *zap.Logger) BusOpt {
	return func(conf *busConf) error {
		if logger == nil {
			return fmt.Errorf("logger must not be nil")
		}
		conf.logger = logger
		return nil
	}
}

// WithMetrics registers the bus's prometheus instruments with reg.
func WithMetrics(reg prometheus.Registerer) BusOpt {
	return func(conf *busConf) error {
		if reg == nil {
			return fmt.Errorf("metrics registerer must not be nil")
		}
		conf.registerer = reg
		return nil
	}
}
