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

package tag

import (
	"time"
)

// LoggingCallAtKey is reserved tag
const LoggingCallAtKey = "logging-call-at"

// Pre-defined tags for the RPC port layer. Anything dynamic in a log message
// should be carried by one of these instead of being formatted into msg.

// Error returns tag for Error
func Error(err error) Tag {
	return NewErrorTag(err)
}

// Port returns tag for the qualified name of a framework port
func Port(name string) Tag {
	return NewStringTag("port", name)
}

// PartnerPort returns tag for the qualified name of a connection partner
func PartnerPort(name string) Tag {
	return NewStringTag("partner-port", name)
}

// InterfaceName returns tag for an RPC interface type name
func InterfaceName(name string) Tag {
	return NewStringTag("rpc-interface", name)
}

// FunctionID returns tag for a function id within an RPC interface
func FunctionID(id uint8) Tag {
	return NewInt("function-id", int(id))
}

// CallID returns tag for the correlation id of an outstanding call
func CallID(id uint64) Tag {
	return NewUint64("call-id", id)
}

// CallType returns tag for the kind of call stored in a slot
func CallType(ct string) Tag {
	return NewStringTag("call-type", ct)
}

// FutureStatus returns tag for a future status value
func FutureStatus(status string) Tag {
	return NewStringTag("future-status", status)
}

// ElementHandle returns tag for a process-stable framework element handle
func ElementHandle(handle uint64) Tag {
	return NewUint64("element-handle", handle)
}

// Timeout returns tag for a call timeout
func Timeout(d time.Duration) Tag {
	return NewAnyTag("timeout", d)
}

// TransportPeer returns tag for the peer identity of a transport
func TransportPeer(peer string) Tag {
	return NewStringTag("transport-peer", peer)
}
