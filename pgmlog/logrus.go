// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package pgmlog adapts github.com/sirupsen/logrus to clog.LogProvider,
// the same way a defaultLogger would wrap the standard library's
// log.Logger, so deployments that already standardised on structured
// logrus output can plug it straight into the transport's Clog.
package pgmlog

import (
	"github.com/sirupsen/logrus"

	"github.com/pgmcore/go-pgm/clog"
)

// LogrusProvider implements clog.LogProvider on top of a *logrus.Logger
// (or *logrus.Entry, via the Entry constructor), mapping the protocol
// core's four log levels onto logrus's richer set.
type LogrusProvider struct {
	entry *logrus.Entry
}

var _ clog.LogProvider = LogrusProvider{}

// NewLogrusProvider wraps logger, tagging every line with component=pgm
// so it is easy to filter out of a mixed-service log stream.
func NewLogrusProvider(logger *logrus.Logger) LogrusProvider {
	return LogrusProvider{entry: logger.WithField("component", "pgm")}
}

// NewLogrusEntryProvider wraps an already-contextualised *logrus.Entry
// (for example one carrying a TSI field set up by the caller).
func NewLogrusEntryProvider(entry *logrus.Entry) LogrusProvider {
	return LogrusProvider{entry: entry}
}

// Critical logs at logrus's Fatal level without the convenience
// Fatalf method's os.Exit(1) side effect: a library must never
// terminate its host process on the caller's behalf.
func (p LogrusProvider) Critical(format string, v ...interface{}) {
	p.entry.Logf(logrus.FatalLevel, format, v...)
}
func (p LogrusProvider) Error(format string, v ...interface{})    { p.entry.Errorf(format, v...) }
func (p LogrusProvider) Warn(format string, v ...interface{})     { p.entry.Warnf(format, v...) }
func (p LogrusProvider) Debug(format string, v ...interface{})    { p.entry.Debugf(format, v...) }
