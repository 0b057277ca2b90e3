package events

import (
	"fmt"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/lni/dragonboat/v4/logger"
	"sort"
	"strings"
)

var Logger = logger.GetLogger("ipc/events")

// watermillLogger routes watermill's structured logs to the ipc/events logger
type watermillLogger struct {
	fields watermill.LogFields
}

// newWatermillLogger creates a watermill.LoggerAdapter backed by Logger
func newWatermillLogger() watermill.LoggerAdapter {
	return &watermillLogger{}
}

func (w *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	Logger.Errorf("%s: %v%s", msg, err, w.format(fields))
}

func (w *watermillLogger) Info(msg string, fields watermill.LogFields) {
	Logger.Infof("%s%s", msg, w.format(fields))
}

func (w *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	Logger.Debugf("%s%s", msg, w.format(fields))
}

// Trace is mapped to debug, dragonboat has no trace level
func (w *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	Logger.Debugf("%s%s", msg, w.format(fields))
}

func (w *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{fields: w.fields.Add(fields)}
}

// format renders the logger's and the call's fields as sorted key=value pairs
func (w *watermillLogger) format(fields watermill.LogFields) string {
	all := w.fields.Add(fields)
	if len(all) == 0 {
		return ""
	}

	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(" [")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(fmt.Sprintf("%s=%v", k, all[k]))
	}
	sb.WriteString("]")
	return sb.String()
}
