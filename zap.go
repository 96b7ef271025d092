package gobayeux

import "go.uber.org/zap"

type wrappedZap struct {
	sugar *zap.SugaredLogger
}

func (w *wrappedZap) Debug(msg string, args ...any) {
	w.sugar.Debugw(msg, args...)
}

func (w *wrappedZap) Info(msg string, args ...any) {
	w.sugar.Infow(msg, args...)
}

func (w *wrappedZap) Warn(msg string, args ...any) {
	w.sugar.Warnw(msg, args...)
}

func (w *wrappedZap) Error(msg string, args ...any) {
	w.sugar.Errorw(msg, args...)
}

func (w *wrappedZap) WithError(err error) Logger {
	return &wrappedZap{w.sugar.With(zap.Error(err))}
}

func (w *wrappedZap) WithField(key string, value any) Logger {
	return &wrappedZap{w.sugar.With(zap.Any(key, value))}
}

// WithZapLogger logs through a zap logger. Extra arguments are treated as
// alternating keys and values.
func WithZapLogger(logger *zap.Logger) Option {
	return func(options *Options) {
		options.Logger = &wrappedZap{logger.Sugar()}
	}
}
