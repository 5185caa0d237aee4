package internal

import (
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

func InitSlog(level string) {
	var programLevel slog.Level
	if err := (&programLevel).UnmarshalText([]byte(level)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v, using info\n", level, err)
		programLevel = slog.LevelInfo
	}

	leveler := &slog.LevelVar{}
	leveler.Set(programLevel)

	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: true,
		Level:     leveler,
	})
	slog.SetDefault(slog.New(h))
}

// GetRequestLogger returns the default logger annotated with the request
// attributes useful when chasing down abuse reports.
func GetRequestLogger(r *http.Request) *slog.Logger {
	return slog.With(
		"method", r.Method,
		"path", r.URL.Path,
		"user_agent", r.UserAgent(),
		"x-forwarded-for", r.Header.Get("X-Forwarded-For"),
		"x-real-ip", r.Header.Get("X-Real-Ip"),
	)
}

// ErrorLogFilter suppresses "context canceled" logs from the http server
// when a client disconnects mid-request.
type ErrorLogFilter struct {
	Unwrap *log.Logger
}

func (elf *ErrorLogFilter) Write(p []byte) (n int, err error) {
	logMessage := string(p)
	if strings.Contains(logMessage, "context canceled") {
		return len(p), nil
	}
	if elf.Unwrap != nil {
		return elf.Unwrap.Writer().Write(p)
	}
	return len(p), nil
}

func GetFilteredHTTPLogger() *log.Logger {
	stdErrLogger := log.New(os.Stderr, "", log.LstdFlags)
	return log.New(&ErrorLogFilter{Unwrap: stdErrLogger}, "", 0)
}
