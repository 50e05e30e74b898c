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

package clock

import "time"

type (
	// TimeSource is an interface to make it easier to test code that uses time.
	TimeSource interface {
		Now() time.Time
		AfterFunc(d time.Duration, f func()) Timer
	}

	// Timer is a timer returned by TimeSource.AfterFunc. Unlike the timers returned by [time.AfterFunc], it is not
	// possible to reuse a timer after calling Stop. This is because it is not possible to implement a race-free version
	// of Reset for a fake timer.
	Timer interface {
		// Reset changes the expiration time of the timer. It returns true if the timer was still active.
		Reset(d time.Duration) bool
		// Stop prevents the Timer from firing. It returns true if the call stops the timer.
		Stop() bool
	}

	// realTimeSource is a timeSource that uses the real wall clock.
	realTimeSource struct{}

	realTimer struct {
		timer *time.Timer
	}
)

var _ TimeSource = realTimeSource{}

// NewRealTimeSource returns a time source that servers real wall clock time.
func NewRealTimeSource() TimeSource {
	return realTimeSource{}
}

func (ts realTimeSource) Now() time.Time {
	return time.Now().UTC()
}

func (ts realTimeSource) AfterFunc(d time.Duration, f func()) Timer {
	return &realTimer{timer: time.AfterFunc(d, f)}
}

func (t *realTimer) Reset(d time.Duration) bool {
	return t.timer.Reset(d)
}

func (t *realTimer) Stop() bool {
	return t.timer.Stop()
}
