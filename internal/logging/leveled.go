package logging

import (
	rh "github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// LeveledLogrus adapts a logrus logger to retryablehttp.LeveledLogger.
type LeveledLogrus struct {
	logrus.FieldLogger
}

// NewLeveledLogger wraps log for use as a retryablehttp client logger.
func NewLeveledLogger(log logrus.FieldLogger) rh.LeveledLogger {
	return &LeveledLogrus{OrDiscard(log)}
}

func fields(keysAndValues ...interface{}) logrus.Fields {
	f := make(logrus.Fields)

	for i := 0; i < len(keysAndValues)-1; i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		f[key] = keysAndValues[i+1]
	}

	return f
}

func (l *LeveledLogrus) Error(msg string, keysAndValues ...interface{}) {
	l.WithFields(fields(keysAndValues...)).Error(msg)
}

func (l *LeveledLogrus) Info(msg string, keysAndValues ...interface{}) {
	l.WithFields(fields(keysAndValues...)).Info(msg)
}

// Debug logs request chatter at Debug. The client logs every request at this
// level, which is too noisy for Info.
func (l *LeveledLogrus) Debug(msg string, keysAndValues ...interface{}) {
	l.WithFields(fields(keysAndValues...)).Debug(msg)
}

func (l *LeveledLogrus) Warn(msg string, keysAndValues ...interface{}) {
	l.WithFields(fields(keysAndValues...)).Warn(msg)
}
