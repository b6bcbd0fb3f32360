package hostlog

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

// kratosMinLevel is the minimum level the base logger will emit. Guarded by
// levelMu; rebuildLogger wraps baseLogger with a fresh log.Filter whenever it
// changes.
var (
	levelMu        sync.Mutex
	kratosMinLevel log.Level = log.LevelInfo
	baseLogger     log.Logger
)

// Option adjusts how Init builds the logger.
type Option func(*initOptions)

type initOptions struct {
	bufferRecords int
	pollInterval  time.Duration
}

// WithBufferedOutput routes records through zerolog's diode writer: a
// non-blocking ring buffer of the given record count, drained every
// pollInterval. A full buffer drops records rather than stalling the
// caller; drops are reported on stderr.
func WithBufferedOutput(records int, pollInterval time.Duration) Option {
	return func(o *initOptions) {
		o.bufferRecords = records
		o.pollInterval = pollInterval
	}
}

// Init wires up the host's logger: a zerolog console writer feeding a Kratos
// logger, decorated with caller, host identity and a per-process correlation
// ID. name/host/version identify the running pluginhostd process in every
// emitted record. Records go to stderr; stdout is reserved for the
// daemon's command channel.
func Init(name, host, version string, opts ...Option) {
	var o initOptions
	for _, fn := range opts {
		fn(&o)
	}
	var sink io.Writer = os.Stderr
	if o.bufferRecords > 0 {
		interval := o.pollInterval
		if interval <= 0 {
			interval = 10 * time.Millisecond
		}
		sink = diode.NewWriter(sink, o.bufferRecords, interval, func(missed int) {
			fmt.Fprintf(os.Stderr, "hostlog: dropped %d records\n", missed)
		})
	}
	output := zerolog.ConsoleWriter{
		Out:        sink,
		TimeFormat: time.RFC3339Nano,
	}
	zl := zerolog.New(output).With().Timestamp().Logger()

	logger := log.With(
		zeroLogLogger{zl},
		"caller", Caller(6),
		"service.id", host,
		"service.name", name,
		"service.version", version,
		"run.id", uuid.NewString(),
	)

	levelMu.Lock()
	baseLogger = logger
	levelMu.Unlock()

	rebuildLogger()
	loggerInitialized.Store(true)
}

// Caller returns a Valuer producing a "pkg/file:line" description of the
// caller at the given stack depth.
func Caller(depth int) log.Valuer {
	return func(context.Context) any {
		_, file, line, _ := runtime.Caller(depth)
		return trimFilePath(file, 3) + ":" + strconv.Itoa(line)
	}
}

// applyLevel updates the minimum emitted level without touching the
// underlying writer.
func applyLevel(lvl log.Level) {
	levelMu.Lock()
	kratosMinLevel = lvl
	levelMu.Unlock()
}

// rebuildLogger recreates Logger/LHelper from baseLogger filtered at the
// current kratosMinLevel, and publishes the new helper atomically so
// concurrent log calls never observe a half-updated logger.
func rebuildLogger() {
	levelMu.Lock()
	base := baseLogger
	lvl := kratosMinLevel
	levelMu.Unlock()

	if base == nil {
		return
	}

	filtered := log.NewFilter(base, log.FilterLevel(lvl))
	helper := log.NewHelper(filtered)

	Logger = filtered
	LHelper = *helper
	helperStore.Store(helper)
}

var loggerInitialized atomic.Bool

// --- sampling / rate limiting for high-volume debug/info records ---

type samplingConfig struct {
	enabled        bool
	infoRatio      float64
	debugRatio     float64
	maxInfoPerSec  int
	maxDebugPerSec int
}

var sconf atomic.Value // *samplingConfig

var (
	rateMu          sync.Mutex
	secWindow       atomic.Int64
	infoCount       atomic.Int64
	debugCount      atomic.Int64
	samplingEnabled atomic.Bool
)

var rngPool = sync.Pool{
	New: func() interface{} {
		var seed int64
		var b [8]byte
		if _, err := crand.Read(b[:]); err == nil {
			seed = int64(binary.LittleEndian.Uint64(b[:]))
		} else {
			seed = time.Now().UnixNano()
		}
		return rand.New(rand.NewSource(seed))
	},
}

func getRNG() *rand.Rand  { return rngPool.Get().(*rand.Rand) }
func putRNG(r *rand.Rand) { rngPool.Put(r) }

func init() {
	sconf.Store(&samplingConfig{enabled: false, infoRatio: 1.0, debugRatio: 1.0})
	samplingEnabled.Store(false)
}

func getSamplingConfig() *samplingConfig {
	if v := sconf.Load(); v != nil {
		if c, ok := v.(*samplingConfig); ok && c != nil {
			return c
		}
	}
	return &samplingConfig{enabled: false, infoRatio: 1.0, debugRatio: 1.0}
}

// SetSampling configures ratio sampling and per-second rate limits for
// debug/info records. Warn/error/fatal are never sampled.
func SetSampling(enabled bool, infoRatio, debugRatio float64, maxInfoPerSec, maxDebugPerSec int) {
	if infoRatio < 0 {
		infoRatio = 0
	}
	if infoRatio > 1 {
		infoRatio = 1
	}
	if debugRatio < 0 {
		debugRatio = 0
	}
	if debugRatio > 1 {
		debugRatio = 1
	}
	sconf.Store(&samplingConfig{
		enabled:        enabled,
		infoRatio:      infoRatio,
		debugRatio:     debugRatio,
		maxInfoPerSec:  maxInfoPerSec,
		maxDebugPerSec: maxDebugPerSec,
	})
	samplingEnabled.Store(enabled)
}

// allowLog applies ratio sampling and per-second rate limiting for
// debug/info levels. Returns true if the record should be emitted.
func allowLog(level log.Level) bool {
	if !samplingEnabled.Load() {
		return true
	}
	if level != log.LevelDebug && level != log.LevelInfo {
		return true
	}

	cfg := getSamplingConfig()
	if cfg == nil || !cfg.enabled {
		return true
	}

	nowSec := time.Now().Unix()
	if secWindow.Load() != nowSec {
		rateMu.Lock()
		if secWindow.Load() != nowSec {
			secWindow.Store(nowSec)
			infoCount.Store(0)
			debugCount.Store(0)
		}
		rateMu.Unlock()
	}

	rng := getRNG()
	defer putRNG(rng)

	switch level {
	case log.LevelDebug:
		if cfg.debugRatio < 1.0 && rng.Float64() > cfg.debugRatio {
			return false
		}
		if cfg.maxDebugPerSec > 0 {
			for {
				current := debugCount.Load()
				if current >= int64(cfg.maxDebugPerSec) {
					return false
				}
				if debugCount.CompareAndSwap(current, current+1) {
					break
				}
			}
		}
	case log.LevelInfo:
		if cfg.infoRatio < 1.0 && rng.Float64() > cfg.infoRatio {
			return false
		}
		if cfg.maxInfoPerSec > 0 {
			for {
				current := infoCount.Load()
				if current >= int64(cfg.maxInfoPerSec) {
					return false
				}
				if infoCount.CompareAndSwap(current, current+1) {
					break
				}
			}
		}
	}
	return true
}

func trimFilePath(file string, depth int) string {
	var slashPos []int
	for i := len(file) - 1; i >= 0; i-- {
		if file[i] == '/' {
			slashPos = append(slashPos, i)
			if len(slashPos) == depth {
				break
			}
		}
	}
	if len(slashPos) == 0 {
		return file
	}
	start := slashPos[len(slashPos)-1] + 1
	return file[start:]
}
