package gobayeux

import "github.com/hashicorp/go-hclog"

type wrappedHCLog struct {
	hclog.Logger
}

func (w *wrappedHCLog) WithError(err error) Logger {
	return w.WithField("error", err)
}

func (w *wrappedHCLog) WithField(key string, value any) Logger {
	return &wrappedHCLog{w.Logger.With(key, value)}
}

// WithHCLogger logs through a hashicorp/go-hclog logger
func WithHCLogger(logger hclog.Logger) Option {
	return func(options *Options) {
		options.Logger = &wrappedHCLog{logger.Named("gobayeux")}
	}
}
