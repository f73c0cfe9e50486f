package manager

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

const timestampFormat = "15:04:05"

// logFormatter writes `[15:04:05] message`. Levels other than info are
// prefixed to the message.
type logFormatter struct {
	noTimestamps bool
}

func (f *logFormatter) Format(entry *log.Entry) ([]byte, error) {
	var b strings.Builder
	if !f.noTimestamps {
		fmt.Fprintf(&b, "[%s] ", entry.Time.Format(timestampFormat))
	}
	if entry.Level != log.InfoLevel {
		b.WriteString(strings.ToUpper(entry.Level.String()))
		b.WriteString(": ")
	}
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
		log.Warnf("Unknown log level '%s', defaulting to info", level)
	}
}

func setupLogging(args Args) {
	log.SetFormatter(&logFormatter{noTimestamps: args.NoTimestamps})
	setLogLevel(args.LogLevel)
}
