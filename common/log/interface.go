// The MIT License
//
// Copyright (c) 2020 Temporal Technologies Inc.  All rights reserved.
//
// Copyright (c) 2020 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package log

import (
	"go.robomesh.io/rpcports/common/log/tag"
)

type (
	// Logger is the logging interface.
	// Usage example:
	//  logger.Info("connection replaced",
	//          tag.Port("/client/blackboard"),
	//          tag.PartnerPort("/server/blackboard"),
	//	 )
	//  Note: msg should be static, do not use fmt.Sprintf() for msg. Anything dynamic should be tagged.
	Logger interface {
		Debug(msg string, tags ...tag.Tag)
		Info(msg string, tags ...tag.Tag)
		Warn(msg string, tags ...tag.Tag)
		Error(msg string, tags ...tag.Tag)
		Fatal(msg string, tags ...tag.Tag)
	}

	// Implement WithLogger interface with With method which should return new instance of logger with prepended tags.
	// If WithLogger is not implemented on logger, internal (not very efficient) preppender is used.
	WithLogger interface {
		With(tags ...tag.Tag) Logger
	}

	// If logger implements SkipLogger then Skip method will be called and extraSkip parameter will have
	// number of extra stack trace frames to skip (useful to log caller func file/line).
	SkipLogger interface {
		Skip(extraSkip int) Logger
	}
)

// With returns Logger instance that prepend every log entry with tags. If logger implements
// WithLogger it is used, otherwise every log call will be intercepted.
func With(logger Logger, tags ...tag.Tag) Logger {
	if wl, ok := logger.(WithLogger); ok {
		return wl.With(tags...)
	}
	return newPrependLogger(logger, tags...)
}

// Skip returns Logger instance with increased stack trace skip.
func Skip(logger Logger, extraSkip int) Logger {
	if sl, ok := logger.(SkipLogger); ok {
		return sl.Skip(extraSkip)
	}
	return logger
}

type prependLogger struct {
	logger Logger
	tags   []tag.Tag
}

func newPrependLogger(logger Logger, tags ...tag.Tag) *prependLogger {
	return &prependLogger{
		logger: Skip(logger, 1),
		tags:   tags,
	}
}

func (l *prependLogger) prepend(tags []tag.Tag) []tag.Tag {
	return append(l.tags[:len(l.tags):len(l.tags)], tags...)
}

func (l *prependLogger) Debug(msg string, tags ...tag.Tag) {
	l.logger.Debug(msg, l.prepend(tags)...)
}

func (l *prependLogger) Info(msg string, tags ...tag.Tag) {
	l.logger.Info(msg, l.prepend(tags)...)
}

func (l *prependLogger) Warn(msg string, tags ...tag.Tag) {
	l.logger.Warn(msg, l.prepend(tags)...)
}

func (l *prependLogger) Error(msg string, tags ...tag.Tag) {
	l.logger.Error(msg, l.prepend(tags)...)
}

func (l *prependLogger) Fatal(msg string, tags ...tag.Tag) {
	l.logger.Fatal(msg, l.prepend(tags)...)
}
