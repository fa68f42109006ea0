package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// zapLogger routes badger's internal logging to the application logger.
type zapLogger struct {
	l *zap.Logger
}

func newZapLogger() *zapLogger {
	return &zapLogger{l: logutil.GetLogger(context.Background()).With(zap.String("component", "badger"))}
}

func (z *zapLogger) Errorf(format string, args ...interface{}) {
	z.l.Error(trim(format, args...))
}

func (z *zapLogger) Warningf(format string, args ...interface{}) {
	z.l.Warn(trim(format, args...))
}

func (z *zapLogger) Infof(format string, args ...interface{}) {
	z.l.Debug(trim(format, args...))
}

func (z *zapLogger) Debugf(format string, args ...interface{}) {
	z.l.Debug(trim(format, args...))
}

func trim(format string, args ...interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}
