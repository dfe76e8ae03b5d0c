package stm32boot

// Logger receives the package's diagnostics: retries and resynchronisation
// at debug and warning level, progress of flash runs at info level.
// *logrus.Logger and *logrus.Entry satisfy it.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

type nullLogger struct{}

func (nullLogger) Debugf(string, ...interface{}) {}
func (nullLogger) Infof(string, ...interface{})  {}
func (nullLogger) Warnf(string, ...interface{})  {}

var pkgLog Logger = nullLogger{}

// SetLogger sets the logger used internally by the package. Passing nil
// silences it again.
func SetLogger(l Logger) {
	if l == nil {
		l = nullLogger{}
	}
	pkgLog = l
}
