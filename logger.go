package tftp

import "github.com/sirupsen/logrus"

// logger wraps a logrus.Entry scoped to one transfer's remote file
// name, matching the teacher's *logger field and its
// debug/trace/err call sites throughout conn.go/put.go/get.go.
type logger struct {
	entry *logrus.Entry
}

// newLogger returns a logger whose "remote" field holds the remote
// file name named in the transfer's RRQ/WRQ, logging through base (logrus.StandardLogger()
// unless the caller overrode it with ClientLogger).
func newLogger(base *logrus.Logger, remote string) *logger {
	return &logger{entry: base.WithField("remote", remote)}
}

func (l *logger) debug(format string, args ...any) {
	if l == nil {
		return
	}
	l.entry.Debugf(format, args...)
}

func (l *logger) trace(format string, args ...any) {
	if l == nil {
		return
	}
	l.entry.Tracef(format, args...)
}

func (l *logger) err(format string, args ...any) {
	if l == nil {
		return
	}
	l.entry.Errorf(format, args...)
}
