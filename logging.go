package chat

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// NewLogger creates a [log.Logger] writing to w with timestamps enabled.
//
// The writer defaults to [os.Stderr].
func NewLogger(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	return log.NewWithOptions(w, log.Options{ReportTimestamp: true, Prefix: "chat"})
}

func discardLogger() *log.Logger {
	return log.New(io.Discard)
}

func loggerOr(l *log.Logger) *log.Logger {
	if l == nil {
		return discardLogger()
	}
	return l
}

// NewTempID generates a client-side correlation id for an optimistic message.
func NewTempID() string {
	return "tmp-" + uuid.NewString()
}
