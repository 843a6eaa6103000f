package observability

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/svcwire/internal/protocol/frame"
	"github.com/danmuck/svcwire/internal/protocol/record"
	"github.com/danmuck/svcwire/internal/protocol/stream"
	"github.com/danmuck/svcwire/internal/protocol/tlv"
	"github.com/prometheus/client_golang/prometheus"
)

// Directions for transfer metrics.
const (
	DirectionRead  = "read"
	DirectionWrite = "write"
)

var (
	registerOnce sync.Once

	codecOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcwire",
			Subsystem: "codec",
			Name:      "operations_total",
			Help:      "Flatten and reconstruct calls by outcome.",
		},
		[]string{"op", "result"},
	)
	codecSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "svcwire",
			Subsystem: "codec",
			Name:      "size_bytes",
			Help:      "Flattened size of encoded and decoded structures.",
			Buckets:   prometheus.ExponentialBuckets(24, 2, 12),
		},
		[]string{"op"},
	)
	transferBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcwire",
			Subsystem: "transfer",
			Name:      "bytes_total",
			Help:      "Bytes moved by exact transfers.",
		},
		[]string{"direction"},
	)
	transferErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcwire",
			Subsystem: "transfer",
			Name:      "errors_total",
			Help:      "Failed transfers by error kind.",
		},
		[]string{"direction", "kind"},
	)
	registryOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcwire",
			Subsystem: "registry",
			Name:      "operations_total",
			Help:      "Registry operations by outcome.",
		},
		[]string{"op", "result"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "svcwire",
			Subsystem: "directory",
			Name:      "request_duration_seconds",
			Help:      "Directory request handling time in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"message", "result"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcwire",
			Subsystem: "admin_http",
			Name:      "requests_total",
			Help:      "Admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "svcwire",
			Subsystem: "admin_http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(codecOperations, codecSize, transferBytes, transferErrors, registryOperations, requestDuration,
			httpRequests, httpDuration)
	})
}

// RecordCodec counts one codec call; size is observed on success only.
func RecordCodec(op string, size int, err error) {
	RegisterMetrics()
	codecOperations.WithLabelValues(op, Result(err)).Inc()
	if err == nil {
		codecSize.WithLabelValues(op).Observe(float64(size))
	}
}

func RecordTransfer(direction string, n int, err error) {
	RegisterMetrics()
	if n > 0 {
		transferBytes.WithLabelValues(direction).Add(float64(n))
	}
	if err != nil {
		transferErrors.WithLabelValues(direction, ErrorKind(err)).Inc()
	}
}

func RecordRegistry(op, result string) {
	RegisterMetrics()
	registryOperations.WithLabelValues(op, result).Inc()
}

func RecordRequest(message, result string, duration time.Duration) {
	RegisterMetrics()
	requestDuration.WithLabelValues(message, result).Observe(duration.Seconds())
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func Result(err error) string {
	if err == nil {
		return "ok"
	}
	return ErrorKind(err)
}

// ErrorKind maps an error onto a bounded label value.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, stream.ErrConnectionClosed):
		return "connection_closed"
	case errors.Is(err, stream.ErrIO):
		return "io"
	case errors.Is(err, record.ErrBufferTooSmall):
		return "buffer_too_small"
	case errors.Is(err, record.ErrTruncatedBuffer):
		return "truncated_buffer"
	case errors.Is(err, record.ErrInvalidHeader):
		return "invalid_header"
	case errors.Is(err, record.ErrInvalidText):
		return "invalid_text"
	case errors.Is(err, record.ErrCountTooLarge), errors.Is(err, record.ErrAddressTooLarge),
		errors.Is(err, frame.ErrPayloadTooLarge):
		return "limit_exceeded"
	case errors.Is(err, frame.ErrInvalidMagic), errors.Is(err, frame.ErrUnsupportedVersion),
		errors.Is(err, frame.ErrHeaderLenMismatch), errors.Is(err, frame.ErrShortHeader):
		return "bad_frame"
	case errors.Is(err, tlv.ErrShortFieldHeader), errors.Is(err, tlv.ErrShortFieldValue),
		errors.Is(err, tlv.ErrTypeMismatch), errors.Is(err, tlv.ErrInvalidLength):
		return "bad_fields"
	default:
		return "other"
	}
}
