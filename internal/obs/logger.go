package obs

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Logger writes one JSON object per line: no external structured-logging
// library, just a thin wrapper so every call site builds a plain field map.
type Logger struct {
	l *log.Logger
}

func NewLogger() *Logger {
	return &Logger{l: log.New(os.Stdout, "", 0)}
}

func (lg *Logger) Info(fields map[string]interface{}) {
	lg.write("info", fields)
}

func (lg *Logger) Error(fields map[string]interface{}) {
	lg.write("error", fields)
}

func (lg *Logger) Warn(fields map[string]interface{}) {
	lg.write("warn", fields)
}

func (lg *Logger) write(level string, fields map[string]interface{}) {
	if lg == nil {
		return
	}
	fields["level"] = level
	fields["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	b, _ := json.Marshal(fields)
	lg.l.Println(string(b))
}
