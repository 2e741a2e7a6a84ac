package logging

import (
	"io"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewRotatingFile returns a writer that appends to path and rotates it by
// size. The caller closes it on shutdown.
func NewRotatingFile(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
}

// Tee copies every entry to w as uncoloured text, in addition to the
// current output. Loggers derived afterwards with Named inherit both.
func (l *Logger) Tee(w io.Writer) {
	file := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    true,
		TimeFormat: "2006-01-02 15:04:05.000",
	}
	l.output = zerolog.MultiLevelWriter(l.output, file)
	l.zlog = build(l.component, l.output)
}
