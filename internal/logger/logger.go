package logger

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	httpmw "github.com/wolfeidau/assetpipe/internal/http"
)

// Setup returns the process logger. Output is JSON on stderr; dev switches to
// the console writer at debug level with stack traces on errors.
func Setup(dev bool) zerolog.Logger {
	var logger zerolog.Logger
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Caller().Logger()
	}

	return logger
}

// Requests logs each request served by next once it completes.
type Requests struct {
	logger zerolog.Logger
	next   http.Handler
}

func NewRequests(logger zerolog.Logger, next http.Handler) *Requests {
	return &Requests{logger: logger, next: next}
}

func (l *Requests) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	ip := httpmw.ClientIPFromContext(r.Context())
	if ip == "" {
		ip = httpmw.ExtractClientIP(r, false)
	}

	ctx := l.logger.With().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("client_ip", ip).
		Logger().WithContext(r.Context())

	l.next.ServeHTTP(rec, r.WithContext(ctx))

	event := zerolog.Ctx(ctx).Info()
	if rec.status >= http.StatusInternalServerError {
		event = zerolog.Ctx(ctx).Error()
	}
	event.
		Int("status", rec.status).
		Int64("bytes", rec.bytes).
		Dur("duration", time.Since(started)).
		Msg("http request")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.bytes += int64(n)
	return n, err
}
