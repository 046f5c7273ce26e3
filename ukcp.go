// Package ukcp - A Fast and Reliable ARQ Protocol
//
// Copyright © 2015 Daniel Fu <daniel820313@gmail.com>.
// Copyright © 2019 Loki 'l0k18' Verloren <stalker.loki@protonmail.ch>.
// Copyright © 2021 Gridfinity, LLC. <admin@gridfinity.com>.
// Copyright © 2025 Jin Long <longjin@dragonos.org>.
//
// All rights reserved.
//
// All use of this code is governed by the MIT license.
// The complete license is available in the LICENSE file.
package ukcp // import "github.com/fslongjin/ultra-kcp"

import (
	"encoding/binary"
	"fmt"
	"math"
	"runtime/debug"
	"sync/atomic"

	"github.com/pkg/errors"
	ukcpLegal "go4.org/legal"
)

// Ukcp protocol constants
const (
	UkcpRtoNdl       = 30  // UkcpRtoNdl:	NoDelay min RTO
	UkcpRtoMin       = 100 // UkcpRtoMin:	Regular min RTO
	UkcpRtoDef       = 200
	UkcpRtoMax       = 60000
	UkcpCmdPush      = 81 // UkcpCmdPush:	Push data
	UkcpCmdAck       = 82 // UkcpCmdAck:	Ack
	UkcpCmdWask      = 83 // UkcpCmdWask:	Get Window Size
	UkcpCmdWins      = 84 // UkcpCmdWins:	Set window Size
	UkcpAskSend      = 1  // UkcpAskSend:	Need to send UkcpCmdWask
	UkcpAskTell      = 2  // UkcpAskTell:	Need to send UkcpCmdWins
	UkcpWndSnd       = 32
	UkcpWndRcv       = 128
	UkcpMtuDef       = 1400
	UkcpAckFast      = 3
	UkcpInterval     = 100
	UkcpOverhead     = 24
	UkcpDeadLink     = 20
	UkcpThreshInit   = 2
	UkcpThreshMin    = 2
	UkcpProbeInit    = 7000   // 7s initial probe window
	UkcpProbeLimit   = 120000 // 120s hard probe timeout
	UkcpFastAckLimit = 5      // max fast retransmissions of one segment
)

// Log event categories, combined into the Config LogMask bitmask.
const (
	UkcpLogOutput   = 1 << iota // raw buffer handed to the output callback
	UkcpLogInput                // raw buffer fed into Input
	UkcpLogDataSend             // application bytes accepted by Send
	UkcpLogDataRecv             // application bytes consumed by Recv
	UkcpLogInData               // inbound push segments
	UkcpLogInAck                // inbound ack segments
	UkcpLogInProbe              // inbound window probes
	UkcpLogInWins               // inbound window reports
	UkcpLogOutData              // outbound push segments
	UkcpLogOutAck               // outbound ack segments
	UkcpLogOutProbe             // outbound window probes
	UkcpLogOutWins              // outbound window reports
)

// Errors reported by the control block. All of them are local,
// recoverable conditions; the caller retries once the underlying
// state has drained or refilled.
var (
	ErrQueueEmpty        = errors.New("receive queue empty")
	ErrBufferTooSmall    = errors.New("buffer too small for message")
	ErrIncompleteMessage = errors.New("fragmented message incomplete")
	ErrWindowFull        = errors.New("send rejected, window full")
)

// Callbacks binds a control block to its environment. Output is
// mandatory and receives every encoded buffer ready for the wire;
// Writelog is optional and receives formatted diagnostics for the
// event categories enabled in the LogMask. Both are invoked
// synchronously from within Input and Flush and must not call back
// into the same control block.
type Callbacks struct {
	Output   func(buf []byte, size int)
	Writelog func(msg string)
}

// Config groups every tunable applied at construction. The zero
// value of a field selects the protocol default.
type Config struct {
	Mtu          int    // maximum transmission unit, default 1400
	SndWnd       int    // send window in segments, default 32
	RcvWnd       int    // receive window in segments, default 128
	NoDelay      int    // 0: disabled (default), 1: enabled
	Interval     int    // flush interval in ms, default 100
	Resend       int    // duplicate-ack threshold for fast resend, 0 disables
	NoCongestion int    // 1 disables the congestion window
	Stream       bool   // byte-stream framing instead of message framing
	FastAckLimit int    // max fast retransmissions per segment, default 5
	DeadLink     uint32 // transmit count considered a broken link, default 20
	LogMask      uint32 // UkcpLog* bits routed to Callbacks.Writelog
}

// DefaultConfig returns the conventional tuning.
func DefaultConfig() Config {
	return Config{
		Mtu:          UkcpMtuDef,
		SndWnd:       UkcpWndSnd,
		RcvWnd:       UkcpWndRcv,
		NoDelay:      0,
		Interval:     UkcpInterval,
		Resend:       0,
		NoCongestion: 0,
		Stream:       false,
		FastAckLimit: UkcpFastAckLimit,
		DeadLink:     UkcpDeadLink,
		LogMask:      0,
	}
}

func ukcpEncode8u(
	p []byte,
	c byte,
) []byte {
	p[0] = c
	return p[1:]
}

func ukcpDecode8u(
	p []byte,
	c *byte,
) []byte {
	*c = p[0]
	return p[1:]
}

func ukcpEncode16u(
	p []byte,
	w uint16,
) []byte {
	binary.LittleEndian.PutUint16(
		p,
		w,
	)
	return p[2:]
}

func ukcpDecode16u(
	p []byte,
	w *uint16,
) []byte {
	*w = binary.LittleEndian.Uint16(
		p,
	)
	return p[2:]
}

func ukcpEncode32u(
	p []byte,
	l uint32,
) []byte {
	binary.LittleEndian.PutUint32(
		p,
		l,
	)
	return p[4:]
}

func ukcpDecode32u(
	p []byte,
	l *uint32,
) []byte {
	*l = binary.LittleEndian.Uint32(
		p,
	)
	return p[4:]
}

func _imin(
	a,
	b uint32,
) uint32 {
	if a <= b {
		return a
	}
	return b
}

func _imax(
	a,
	b uint32,
) uint32 {
	if a >= b {
		return a
	}
	return b
}

func _ibound(
	lower,
	middle,
	upper uint32,
) uint32 {
	return _imin(
		_imax(
			lower,
			middle,
		),
		upper,
	)
}

func _itimediff(
	later,
	earlier uint32,
) int32 {
	return (int32)(later - earlier)
}

// Segment is the unit of wire data and retransmission bookkeeping.
type Segment struct {
	conv     uint32
	cmd      uint8
	frg      uint8
	wnd      uint16
	ts       uint32
	sn       uint32
	una      uint32
	rto      uint32
	Xmit     uint32
	ResendTs uint32
	fastack  uint32
	acked    uint32
	data     []byte
}

func (
	Seg *Segment,
) encode(
	ptr []byte,
) []byte {
	ptr = ukcpEncode32u(
		ptr,
		Seg.conv,
	)
	ptr = ukcpEncode8u(
		ptr,
		Seg.cmd,
	)
	ptr = ukcpEncode8u(
		ptr,
		Seg.frg,
	)
	ptr = ukcpEncode16u(
		ptr,
		Seg.wnd,
	)
	ptr = ukcpEncode32u(
		ptr,
		Seg.ts,
	)
	ptr = ukcpEncode32u(
		ptr,
		Seg.sn,
	)
	ptr = ukcpEncode32u(
		ptr,
		Seg.una,
	)
	ptr = ukcpEncode32u(
		ptr, uint32(len(
			Seg.data,
		)))
	atomic.AddUint64(
		&DefaultSnsi.UkcpOutputSegments,
		1,
	)
	return ptr
}

// UKCP primary structure
type UKCP struct {
	conv, mtu, mss, state               uint32
	sndUna, sndNxt, rcvNxt              uint32
	ssthresh                            uint32
	rxRttVar, rxSrtt                    int32
	rxRto, rxMinRto                     uint32
	sndWnd, rcvWnd, rmtWnd, cwnd, probe uint32
	interval, tsFlush                   uint32
	nodelay, updated                    uint32
	tsProbe, probeWait                  uint32
	deadLink, incr                      uint32
	currentMs                           uint32
	fastresend                          int32
	fastlimit                           int32
	nocwnd, stream                      int32
	logmask                             uint32
	sndQueue                            []Segment
	rcvQueue                            []Segment
	SndBuf                              []Segment
	rcvBuf                              []Segment
	acklist                             []ackItem
	buffer                              []byte
	reserved                            int
	cb                                  Callbacks
}

type ackItem struct {
	sn uint32
	ts uint32
}

// NewUKCP creates a new control block for one conversation.
// The conversation id is embedded verbatim in every outgoing
// segment; cfg is consumed at construction (later changes go
// through the setters); cb.Output must be non-nil.
func NewUKCP(
	conv uint32,
	cfg Config,
	cb Callbacks,
) *UKCP {
	Ukcp := new(
		UKCP,
	)
	Ukcp.conv = conv
	Ukcp.sndWnd = UkcpWndSnd
	if cfg.SndWnd > 0 {
		Ukcp.sndWnd = uint32(
			cfg.SndWnd,
		)
	}
	Ukcp.rcvWnd = UkcpWndRcv
	if cfg.RcvWnd > 0 {
		Ukcp.rcvWnd = uint32(
			cfg.RcvWnd,
		)
	}
	Ukcp.rmtWnd = UkcpWndRcv
	Ukcp.mtu = UkcpMtuDef
	if cfg.Mtu >= 50 && cfg.Mtu >= UkcpOverhead {
		Ukcp.mtu = uint32(
			cfg.Mtu,
		)
	}
	Ukcp.mss = Ukcp.mtu - UkcpOverhead
	Ukcp.buffer = make(
		[]byte,
		Ukcp.mtu,
	)
	Ukcp.rxRto = UkcpRtoDef
	Ukcp.rxMinRto = UkcpRtoMin
	Ukcp.interval = UkcpInterval
	Ukcp.tsFlush = UkcpInterval
	Ukcp.ssthresh = UkcpThreshInit
	Ukcp.fastlimit = UkcpFastAckLimit
	if cfg.FastAckLimit != 0 {
		Ukcp.fastlimit = int32(
			cfg.FastAckLimit,
		)
	}
	Ukcp.deadLink = UkcpDeadLink
	if cfg.DeadLink != 0 {
		Ukcp.deadLink = cfg.DeadLink
	}
	if cfg.Stream {
		Ukcp.stream = 1
	}
	Ukcp.logmask = cfg.LogMask
	Ukcp.cb = cb
	interval := cfg.Interval
	if interval == 0 {
		interval = UkcpInterval
	}
	Ukcp.NoDelay(
		cfg.NoDelay,
		interval,
		cfg.Resend,
		cfg.NoCongestion,
	)
	return Ukcp
}

func (
	Ukcp *UKCP,
) newSegment(
	size int,
) (
	Seg Segment,
) {
	Seg.data = XmitBuf.Get().([]byte)[:size]
	return
}

func (
	Ukcp *UKCP,
) delSegment(
	Seg *Segment,
) {
	if Seg.data != nil {
		XmitBuf.Put(
			// TODO(jhj): Switch to pointer to avoid allocation
			Seg.data,
		)
		Seg.data = nil
	}
}

// ReserveBytes keeps 'n' bytes from the beginning of buffering.
// Output callbacks use this to return 'false' if 'n' >= 'mss'.
func (
	Ukcp *UKCP,
) ReserveBytes(
	n int,
) bool {
	if n >= int(
		Ukcp.mtu-UkcpOverhead,
	) || n < 0 {
		return false
	}
	Ukcp.reserved = n
	Ukcp.mss = Ukcp.mtu - UkcpOverhead - uint32(
		n,
	)
	return true
}

func (
	Ukcp *UKCP,
) canLog(
	mask uint32,
) bool {
	return (mask&Ukcp.logmask) != 0 && Ukcp.cb.Writelog != nil
}

func (
	Ukcp *UKCP,
) writeLog(
	mask uint32,
	format string,
	args ...interface{},
) {
	if Ukcp.canLog(
		mask,
	) {
		Ukcp.cb.Writelog(fmt.Sprintf(
			format,
			args...,
		))
	}
}

func (
	Ukcp *UKCP,
) output(
	buffer []byte,
	size int,
) {
	Ukcp.writeLog(
		UkcpLogOutput,
		"[RO] %d bytes",
		size,
	)
	Ukcp.cb.Output(
		buffer,
		size,
	)
}

// PeekSize reports the byte length of the next complete logical
// message without consuming it. ErrQueueEmpty means nothing is
// queued; ErrIncompleteMessage means the head fragment's siblings
// have not all arrived yet.
func (
	Ukcp *UKCP,
) PeekSize() (
	int,
	error,
) {
	if len(
		Ukcp.rcvQueue,
	) == 0 {
		return 0, ErrQueueEmpty
	}
	Seg := &Ukcp.rcvQueue[0]
	if Seg.frg == 0 {
		return len(
			Seg.data,
		), nil
	}
	if len(
		Ukcp.rcvQueue,
	) < int(
		Seg.frg+1,
	) {
		return 0, ErrIncompleteMessage
	}
	length := 0
	for k := range Ukcp.rcvQueue {
		Seg := &Ukcp.rcvQueue[k]
		length += len(
			Seg.data,
		)
		if Seg.frg == 0 {
			break
		}
	}
	return length, nil
}

// Recv copies one complete logical message into buffer and reports
// its length. With isPeek the message stays queued for the next
// call. A message shorter than the buffer is never split; a buffer
// shorter than the message fails with ErrBufferTooSmall and leaves
// the queue untouched.
func (
	Ukcp *UKCP,
) Recv(
	buffer []byte,
	isPeek bool,
) (
	n int,
	err error,
) {
	peeksize, err := Ukcp.PeekSize()
	if err != nil {
		return 0, err
	}
	if peeksize > len(
		buffer,
	) {
		return 0, ErrBufferTooSmall
	}
	var fastRecovery bool
	if len(
		Ukcp.rcvQueue,
	) >= int(
		Ukcp.rcvWnd,
	) {
		fastRecovery = true
	}
	count := 0
	for k := range Ukcp.rcvQueue {
		Seg := &Ukcp.rcvQueue[k]
		copy(
			buffer,
			Seg.data,
		)
		buffer = buffer[len(
			Seg.data,
		):]
		n += len(
			Seg.data,
		)
		count++
		Ukcp.writeLog(
			UkcpLogDataRecv,
			"recv sn=%d",
			Seg.sn,
		)
		if !isPeek {
			Ukcp.delSegment(
				Seg,
			)
		}
		if Seg.frg == 0 {
			break
		}
	}
	if count > 0 && !isPeek {
		Ukcp.rcvQueue = Ukcp.removeFront(
			Ukcp.rcvQueue,
			count,
		)
	}
	count = 0
	for k := range Ukcp.rcvBuf {
		Seg := &Ukcp.rcvBuf[k]
		if Seg.sn == Ukcp.rcvNxt && len(
			Ukcp.rcvQueue,
		) < int(
			Ukcp.rcvWnd,
		) {
			Ukcp.rcvNxt++
			count++
		} else {
			break
		}
	}
	if count > 0 {
		Ukcp.rcvQueue = append(
			Ukcp.rcvQueue,
			Ukcp.rcvBuf[:count]...,
		)
		Ukcp.rcvBuf = Ukcp.removeFront(
			Ukcp.rcvBuf,
			count,
		)
	}
	if len(
		Ukcp.rcvQueue,
	) < int(
		Ukcp.rcvWnd,
	) && fastRecovery {
		Ukcp.probe |= UkcpAskTell
	}
	return n, nil
}

// Send accepts application bytes for transmission and reports how
// many were taken. In stream mode the tail segment of the send
// queue is topped off before new segments are cut, and a partial
// acceptance is a success. ErrWindowFull means the data would need
// more segments than the receive window (or the fragment field)
// can describe, and nothing beyond any stream top-off was taken.
func (
	Ukcp *UKCP,
) Send(
	buffer []byte,
) (
	int,
	error,
) {
	var count int
	var sent int
	if len(
		buffer,
	) == 0 {
		return 0, nil
	}
	if Ukcp.stream != 0 {
		n := len(
			Ukcp.sndQueue,
		)
		if n > 0 {
			Seg := &Ukcp.sndQueue[n-1]
			if len(
				Seg.data,
			) < int(
				Ukcp.mss,
			) {
				capacity := int(
					Ukcp.mss,
				) - len(
					Seg.data,
				)
				extend := capacity
				if len(
					buffer,
				) < capacity {
					extend = len(
						buffer,
					)
				}
				oldlen := len(
					Seg.data,
				)
				Seg.data = Seg.data[:oldlen+extend]
				copy(
					Seg.data[oldlen:],
					buffer,
				)
				buffer = buffer[extend:]
				sent = extend
			}
		}
		if len(
			buffer,
		) == 0 {
			Ukcp.writeLog(
				UkcpLogDataSend,
				"send %d bytes",
				sent,
			)
			return sent, nil
		}
	}
	if len(
		buffer,
	) <= int(
		Ukcp.mss,
	) {
		count = 1
	} else {
		count = (len(
			buffer,
		) + int(
			Ukcp.mss,
		) - 1) / int(
			Ukcp.mss,
		)
	}
	if count >= int(
		Ukcp.rcvWnd,
	) || count > 255 {
		if Ukcp.stream != 0 && sent > 0 {
			return sent, nil
		}
		return 0, ErrWindowFull
	}
	if count == 0 {
		count = 1
	}
	for i := 0; i < count; i++ {
		var size int
		if len(
			buffer,
		) > int(
			Ukcp.mss,
		) {
			size = int(
				Ukcp.mss,
			)
		} else {
			size = len(
				buffer,
			)
		}
		Seg := Ukcp.newSegment(
			size,
		)
		copy(
			Seg.data,
			buffer[:size],
		)
		if Ukcp.stream == 0 {
			Seg.frg = uint8(
				count - i - 1,
			)
		} else {
			Seg.frg = 0
		}
		Ukcp.sndQueue = append(
			Ukcp.sndQueue,
			Seg,
		)
		buffer = buffer[size:]
		sent += size
	}
	Ukcp.writeLog(
		UkcpLogDataSend,
		"send %d bytes",
		sent,
	)
	return sent, nil
}

func (
	Ukcp *UKCP,
) updateAck(
	rtt int32,
) {
	var rto uint32
	if Ukcp.rxSrtt == 0 {
		Ukcp.rxSrtt = rtt
		Ukcp.rxRttVar = rtt >> 1
	} else {
		delta := rtt - Ukcp.rxSrtt
		Ukcp.rxSrtt += delta >> 3
		if delta < 0 {
			delta = -delta
		}
		if rtt < Ukcp.rxSrtt-Ukcp.rxRttVar {
			Ukcp.rxRttVar += (delta - Ukcp.rxRttVar) >> 5
		} else {
			Ukcp.rxRttVar += (delta - Ukcp.rxRttVar) >> 2
		}
	}
	rto = uint32(
		Ukcp.rxSrtt,
	) + _imax(
		Ukcp.interval,
		uint32(
			Ukcp.rxRttVar,
		)<<2)
	Ukcp.rxRto = _ibound(
		Ukcp.rxMinRto,
		rto,
		UkcpRtoMax,
	)
}

func (
	Ukcp *UKCP,
) shrinkBuf() {
	if len(
		Ukcp.SndBuf,
	) > 0 {
		Seg := &Ukcp.SndBuf[0]
		Ukcp.sndUna = Seg.sn
	} else {
		Ukcp.sndUna = Ukcp.sndNxt
	}
}

func (
	Ukcp *UKCP,
) parseAck(
	sn uint32,
) {
	if _itimediff(
		sn,
		Ukcp.sndUna,
	) < 0 || _itimediff(
		sn,
		Ukcp.sndNxt,
	) >= 0 {
		return
	}

	for k := range Ukcp.SndBuf {
		Seg := &Ukcp.SndBuf[k]
		if sn == Seg.sn {
			Seg.acked = 1
			Ukcp.delSegment(
				Seg,
			)
			break
		}
		if _itimediff(
			sn,
			Seg.sn,
		) < 0 {
			break
		}
	}
}

func (
	Ukcp *UKCP,
) parseFastack(
	sn, ts uint32,
) {
	if _itimediff(
		sn,
		Ukcp.sndUna,
	) < 0 || _itimediff(
		sn,
		Ukcp.sndNxt,
	) >= 0 {
		return
	}
	for k := range Ukcp.SndBuf {
		Seg := &Ukcp.SndBuf[k]
		if _itimediff(
			sn,
			Seg.sn,
		) < 0 {
			break
		} else if sn != Seg.sn && _itimediff(
			Seg.ts,
			ts,
		) <= 0 {
			Seg.fastack++
		}
	}
}

func (
	Ukcp *UKCP,
) parseUna(
	una uint32,
) {
	count := 0
	for k := range Ukcp.SndBuf {
		Seg := &Ukcp.SndBuf[k]
		if _itimediff(
			una,
			Seg.sn,
		) > 0 {
			Ukcp.delSegment(
				Seg,
			)
			count++
		} else {
			break
		}
	}
	if count > 0 {
		Ukcp.SndBuf = Ukcp.removeFront(
			Ukcp.SndBuf,
			count,
		)
	}
}

func (
	Ukcp *UKCP,
) ackPush(
	sn,
	ts uint32,
) {
	Ukcp.acklist = append(
		Ukcp.acklist,
		ackItem{
			sn,
			ts,
		})
}

func (
	Ukcp *UKCP,
) parseData(
	newSeg Segment,
) bool {
	sn := newSeg.sn
	if _itimediff(
		sn,
		Ukcp.rcvNxt+Ukcp.rcvWnd,
	) >= 0 ||
		_itimediff(
			sn,
			Ukcp.rcvNxt,
		) < 0 {
		return true
	}

	n := len(
		Ukcp.rcvBuf,
	) - 1
	insertIdx := 0
	repeat := false
	for i := n; i >= 0; i-- {
		Seg := &Ukcp.rcvBuf[i]
		if Seg.sn == sn {
			repeat = true
			break
		}
		if _itimediff(
			sn,
			Seg.sn,
		) > 0 {
			insertIdx = i + 1
			break
		}
	}

	if !repeat {
		dataCopy := XmitBuf.Get().([]byte)[:len(newSeg.data)]
		copy(
			dataCopy,
			newSeg.data,
		)
		newSeg.data = dataCopy

		if insertIdx == n+1 {
			Ukcp.rcvBuf = append(
				Ukcp.rcvBuf,
				newSeg,
			)
		} else {
			Ukcp.rcvBuf = append(
				Ukcp.rcvBuf,
				Segment{},
			)
			copy(
				Ukcp.rcvBuf[insertIdx+1:],
				Ukcp.rcvBuf[insertIdx:],
			)
			Ukcp.rcvBuf[insertIdx] = newSeg
		}
	}
	count := 0
	for k := range Ukcp.rcvBuf {
		Seg := &Ukcp.rcvBuf[k]
		if Seg.sn == Ukcp.rcvNxt && len(
			Ukcp.rcvQueue,
		) < int(
			Ukcp.rcvWnd,
		) {
			Ukcp.rcvNxt++
			count++
		} else {
			break
		}
	}
	if count > 0 {
		Ukcp.rcvQueue = append(
			Ukcp.rcvQueue,
			Ukcp.rcvBuf[:count]...,
		)
		Ukcp.rcvBuf = Ukcp.removeFront(
			Ukcp.rcvBuf,
			count,
		)
	}
	return repeat
}

// Input feeds one decoded carrier packet, possibly carrying several
// segments, into the control block. Malformed data yields a negative
// advisory code and is otherwise treated like packet loss. regular
// marks packets that arrived from the normal path (window updates
// and statistics are taken only from those); ackNoDelay flushes
// pending acks immediately instead of on the next tick.
func (
	Ukcp *UKCP,
) Input(
	data []byte,
	regular,
	ackNoDelay bool,
) int {
	sndUna := Ukcp.sndUna
	if len(
		data,
	) < UkcpOverhead {
		return -1
	}
	Ukcp.writeLog(
		UkcpLogInput,
		"[RI] %d bytes",
		len(
			data,
		),
	)
	var latest uint32
	var flag int
	var inSegs uint64
	for {
		var ts,
			sn,
			length,
			una,
			conv uint32
		var wnd uint16
		var cmd,
			frg uint8
		if len(
			data,
		) < int(
			UkcpOverhead,
		) {
			break
		}
		data = ukcpDecode32u(
			data,
			&conv,
		)
		if conv != Ukcp.conv {
			return -1
		}
		data = ukcpDecode8u(
			data,
			&cmd,
		)
		data = ukcpDecode8u(
			data,
			&frg,
		)
		data = ukcpDecode16u(
			data,
			&wnd,
		)
		data = ukcpDecode32u(
			data,
			&ts,
		)
		data = ukcpDecode32u(
			data,
			&sn,
		)
		data = ukcpDecode32u(
			data,
			&una,
		)
		data = ukcpDecode32u(
			data,
			&length,
		)
		if len(
			data,
		) < int(
			length,
		) {
			return -2
		}
		if cmd != UkcpCmdPush && cmd != UkcpCmdAck &&
			cmd != UkcpCmdWask && cmd != UkcpCmdWins {
			return -3
		}
		if regular {
			Ukcp.rmtWnd = uint32(
				wnd,
			)
		}
		Ukcp.parseUna(
			una,
		)
		Ukcp.shrinkBuf()
		if cmd == UkcpCmdAck {
			Ukcp.parseAck(
				sn,
			)
			Ukcp.parseFastack(
				sn,
				ts,
			)
			flag |= 1
			latest = ts
			Ukcp.writeLog(
				UkcpLogInAck,
				"input ack: sn=%d rtt=%d rto=%d",
				sn,
				_itimediff(
					Ukcp.currentMs,
					ts,
				),
				Ukcp.rxRto,
			)
		} else if cmd == UkcpCmdPush {
			Ukcp.writeLog(
				UkcpLogInData,
				"input psh: sn=%d ts=%d",
				sn,
				ts,
			)
			repeat := true
			if _itimediff(
				sn,
				Ukcp.rcvNxt+Ukcp.rcvWnd,
			) < 0 {
				Ukcp.ackPush(
					sn,
					ts,
				)
				if _itimediff(
					sn,
					Ukcp.rcvNxt,
				) >= 0 {
					var Seg Segment
					Seg.conv = conv
					Seg.cmd = cmd
					Seg.frg = frg
					Seg.wnd = wnd
					Seg.ts = ts
					Seg.sn = sn
					Seg.una = una
					Seg.data = data[:length]
					repeat = Ukcp.parseData(
						Seg,
					)
				}
			}
			if regular && repeat {
				atomic.AddUint64(
					&DefaultSnsi.UkcpDupSegments,
					1,
				)
			}
		} else if cmd == UkcpCmdWask {
			Ukcp.probe |= UkcpAskTell
			Ukcp.writeLog(
				UkcpLogInProbe,
				"input probe",
			)
		} else if cmd == UkcpCmdWins {
			Ukcp.writeLog(
				UkcpLogInWins,
				"input wins: %d",
				wnd,
			)
		} else {
			return -3
		}
		inSegs++
		data = data[length:]
	}
	atomic.AddUint64(
		&DefaultSnsi.UkcpInputSegments,
		inSegs,
	)
	if flag != 0 && regular {
		current := Ukcp.currentMs
		if _itimediff(
			current,
			latest,
		) >= 0 {
			Ukcp.updateAck(
				_itimediff(
					current,
					latest,
				),
			)
		}
	}
	if Ukcp.nocwnd == 0 {
		if _itimediff(
			Ukcp.sndUna,
			sndUna,
		) > 0 {
			if Ukcp.cwnd < Ukcp.rmtWnd {
				mss := Ukcp.mss
				if Ukcp.cwnd < Ukcp.ssthresh {
					Ukcp.cwnd++
					Ukcp.incr += mss
				} else {
					if Ukcp.incr < mss {
						Ukcp.incr = mss
					}
					Ukcp.incr += (mss*mss)/Ukcp.incr + (mss / 16)
					if (Ukcp.cwnd+1)*mss <= Ukcp.incr {
						Ukcp.cwnd++
					}
				}
				if Ukcp.cwnd > Ukcp.rmtWnd {
					Ukcp.cwnd = Ukcp.rmtWnd
					Ukcp.incr = Ukcp.rmtWnd * mss
				}
			}
		}
	}
	if ackNoDelay && len(
		Ukcp.acklist,
	) > 0 {
		Ukcp.Flush(
			Ukcp.currentMs,
			true,
		)
	}
	return 0
}

func (
	Ukcp *UKCP,
) wndUnused() uint16 {
	if len(
		Ukcp.rcvQueue,
	) < int(Ukcp.rcvWnd) {
		return uint16(
			int(
				Ukcp.rcvWnd,
			) - len(
				Ukcp.rcvQueue,
			),
		)
	}
	return 0
}

// Flush runs one emission pass at the supplied timestamp: pending
// acks, window probes and reports, queue-to-buffer promotion under
// the effective window, timeout and fast retransmissions, and the
// congestion response. With ackOnly only acks are emitted. The
// return value is the earliest resend distance in ms, for adaptive
// scheduling of the next pass.
func (
	Ukcp *UKCP,
) Flush(
	current uint32,
	ackOnly bool,
) uint32 {
	Ukcp.currentMs = current
	var Seg Segment
	Seg.conv = Ukcp.conv
	Seg.cmd = UkcpCmdAck
	Seg.wnd = Ukcp.wndUnused()
	Seg.una = Ukcp.rcvNxt
	buffer := Ukcp.buffer
	ptr := buffer[Ukcp.reserved:]
	makeSpace := func(
		space int,
	) {
		size := len(
			buffer,
		) - len(
			ptr,
		)
		if size+space > int(
			Ukcp.mtu,
		) {
			Ukcp.output(
				buffer,
				size,
			)
			ptr = buffer[Ukcp.reserved:]
		}
	}
	FlushBuffer := func() {
		size := len(
			buffer,
		) - len(
			ptr,
		)
		if size > Ukcp.reserved {
			Ukcp.output(
				buffer,
				size,
			)
		}
	}
	for i, ack := range Ukcp.acklist {
		makeSpace(
			UkcpOverhead,
		)
		if ack.sn >= Ukcp.rcvNxt || len(
			Ukcp.acklist,
		)-1 == i {
			Seg.sn,
				Seg.ts = ack.sn,
				ack.ts
			ptr = Seg.encode(
				ptr,
			)
			Ukcp.writeLog(
				UkcpLogOutAck,
				"output ack: sn=%d",
				Seg.sn,
			)
		}
	}
	Ukcp.acklist = Ukcp.acklist[0:0]
	if ackOnly {
		FlushBuffer()
		return Ukcp.interval
	}
	if Ukcp.rmtWnd == 0 {
		if Ukcp.probeWait == 0 {
			Ukcp.probeWait = UkcpProbeInit
			Ukcp.tsProbe = current + Ukcp.probeWait
		} else if _itimediff(
			current,
			Ukcp.tsProbe,
		) >= 0 {
			if Ukcp.probeWait < UkcpProbeInit {
				Ukcp.probeWait = UkcpProbeInit
			}
			Ukcp.probeWait += Ukcp.probeWait / 2
			if Ukcp.probeWait > UkcpProbeLimit {
				Ukcp.probeWait = UkcpProbeLimit
			}
			Ukcp.tsProbe = current + Ukcp.probeWait
			Ukcp.probe |= UkcpAskSend
		}
	} else {
		Ukcp.tsProbe = 0
		Ukcp.probeWait = 0
	}
	if (Ukcp.probe & UkcpAskSend) != 0 {
		Seg.cmd = UkcpCmdWask
		makeSpace(
			UkcpOverhead,
		)
		ptr = Seg.encode(
			ptr,
		)
		Ukcp.writeLog(
			UkcpLogOutProbe,
			"output probe: ask",
		)
	}
	if (Ukcp.probe & UkcpAskTell) != 0 {
		Seg.cmd = UkcpCmdWins
		makeSpace(
			UkcpOverhead,
		)
		ptr = Seg.encode(
			ptr,
		)
		Ukcp.writeLog(
			UkcpLogOutWins,
			"output wins: %d",
			Seg.wnd,
		)
	}
	Ukcp.probe = 0
	cwnd := _imin(
		Ukcp.sndWnd,
		Ukcp.rmtWnd,
	)
	if Ukcp.nocwnd == 0 {
		cwnd = _imin(
			Ukcp.cwnd,
			cwnd,
		)
	}
	newSegsCount := 0
	for k := range Ukcp.sndQueue {
		if _itimediff(
			Ukcp.sndNxt,
			Ukcp.sndUna+cwnd,
		) >= 0 {
			break
		}
		newSeg := Ukcp.sndQueue[k]
		newSeg.conv = Ukcp.conv
		newSeg.cmd = UkcpCmdPush
		newSeg.sn = Ukcp.sndNxt
		Ukcp.SndBuf = append(
			Ukcp.SndBuf,
			newSeg,
		)
		Ukcp.sndNxt++
		newSegsCount++
	}
	if newSegsCount > 0 {
		Ukcp.sndQueue = Ukcp.removeFront(
			Ukcp.sndQueue,
			newSegsCount,
		)
	}
	resent := uint32(
		Ukcp.fastresend,
	)
	if Ukcp.fastresend <= 0 {
		resent = 0xFFFFFFFF
	}
	var change,
		lost,
		lostSegs,
		fastRetransSegs,
		earlyRetransSegs uint64
	minrto := int32(
		Ukcp.interval,
	)
	ref := Ukcp.SndBuf[:len(
		Ukcp.SndBuf,
	)]
	for k := range ref {
		Seg := &ref[k]
		needsend := false
		if Seg.acked == 1 {
			continue
		}
		if Seg.Xmit == 0 {
			needsend = true
			Seg.rto = Ukcp.rxRto
			Seg.ResendTs = current + Seg.rto
		} else if _itimediff(
			current,
			Seg.ResendTs,
		) >= 0 {
			needsend = true
			if Ukcp.nodelay == 0 {
				Seg.rto += Ukcp.rxRto
			} else {
				Seg.rto += Ukcp.rxRto / 2
			}
			Seg.ResendTs = current + Seg.rto
			lost++
			lostSegs++
		} else if Seg.fastack >= resent {
			if Seg.Xmit <= uint32(
				Ukcp.fastlimit,
			) || Ukcp.fastlimit <= 0 {
				needsend = true
				Seg.fastack = 0
				Seg.rto = Ukcp.rxRto
				Seg.ResendTs = current + Seg.rto
				change++
				fastRetransSegs++
			}
		} else if Seg.fastack > 0 && newSegsCount == 0 {
			needsend = true
			Seg.fastack = 0
			Seg.rto = Ukcp.rxRto
			Seg.ResendTs = current + Seg.rto
			change++
			earlyRetransSegs++
		}
		if needsend {
			Seg.Xmit++
			Seg.ts = current
			Seg.wnd = Ukcp.wndUnused()
			Seg.una = Ukcp.rcvNxt
			need := UkcpOverhead + len(
				Seg.data,
			)
			makeSpace(
				need,
			)
			ptr = Seg.encode(
				ptr,
			)
			copy(
				ptr,
				Seg.data,
			)
			ptr = ptr[len(
				Seg.data,
			):]
			Ukcp.writeLog(
				UkcpLogOutData,
				"output psh: sn=%d ts=%d xmit=%d",
				Seg.sn,
				Seg.ts,
				Seg.Xmit,
			)
			if Seg.Xmit >= Ukcp.deadLink {
				Ukcp.state = 0xFFFFFFFF
			}
		}
		if rto := _itimediff(
			Seg.ResendTs,
			current,
		); rto > 0 && rto < minrto {
			minrto = rto
		}
	}
	FlushBuffer()
	sum := lostSegs
	if lostSegs > 0 {
		atomic.AddUint64(
			&DefaultSnsi.UkcpLostSegments,
			lostSegs,
		)
	}
	if fastRetransSegs > 0 {
		atomic.AddUint64(
			&DefaultSnsi.FastUkcpRetransmittedSegments,
			fastRetransSegs,
		)
		sum += fastRetransSegs
	}
	if earlyRetransSegs > 0 {
		atomic.AddUint64(
			&DefaultSnsi.EarlyUkcpRetransmittedSegments,
			earlyRetransSegs,
		)
		sum += earlyRetransSegs
	}
	if sum > 0 {
		atomic.AddUint64(
			&DefaultSnsi.UkcpRetransmittedSegments,
			sum,
		)
	}
	if Ukcp.nocwnd == 0 {
		if change > 0 {
			inflight := Ukcp.sndNxt - Ukcp.sndUna
			Ukcp.ssthresh = inflight / 2
			if Ukcp.ssthresh < UkcpThreshMin {
				Ukcp.ssthresh = UkcpThreshMin
			}
			Ukcp.cwnd = Ukcp.ssthresh + resent
			Ukcp.incr = Ukcp.cwnd * Ukcp.mss
		}
		if lost > 0 {
			Ukcp.ssthresh = cwnd / 2
			if Ukcp.ssthresh < UkcpThreshMin {
				Ukcp.ssthresh = UkcpThreshMin
			}
			Ukcp.cwnd = 1
			Ukcp.incr = Ukcp.mss
		}

		if Ukcp.cwnd < 1 {
			Ukcp.cwnd = 1
			Ukcp.incr = Ukcp.mss
		}
	}
	return uint32(
		minrto,
	)
}

// Update advances the control block to the supplied monotonic
// millisecond timestamp and flushes when one interval has elapsed.
// The clock is entirely caller-driven; synthetic timestamps give a
// deterministic protocol under test. Call it every 10ms to 100ms,
// or as told by Check.
func (
	Ukcp *UKCP,
) Update(
	current uint32,
) {
	var slap int32
	Ukcp.currentMs = current
	if Ukcp.updated == 0 {
		Ukcp.updated = 1
		Ukcp.tsFlush = current
	}
	slap = _itimediff(
		current,
		Ukcp.tsFlush,
	)
	if slap >= 10000 || slap < -10000 {
		Ukcp.tsFlush = current
		slap = 0
	}
	if slap >= 0 {
		Ukcp.tsFlush += Ukcp.interval
		if _itimediff(
			current,
			Ukcp.tsFlush,
		) >= 0 {
			Ukcp.tsFlush = current + Ukcp.interval
		}
		Ukcp.Flush(
			current,
			false,
		)
	}
}

// Check reports the timestamp at which the next Update is due,
// given the supplied current timestamp: the earlier of the next
// scheduled flush and the earliest segment resend, never further
// out than one interval. It lets a driver sleep exactly as long as
// the protocol allows instead of polling, when handling massive
// numbers of connections.
func (
	Ukcp *UKCP,
) Check(
	current uint32,
) uint32 {
	tsFlush := Ukcp.tsFlush
	tmFlush := int32(
		math.MaxInt32,
	)
	tmPacket := int32(
		math.MaxInt32,
	)
	minimal := uint32(
		0,
	)
	if Ukcp.updated == 0 {
		return current
	}
	if _itimediff(
		current,
		tsFlush,
	) >= 10000 ||
		_itimediff(
			current,
			tsFlush,
		) < -10000 {
		tsFlush = current
	}
	if _itimediff(
		current,
		tsFlush,
	) >= 0 {
		return current
	}
	tmFlush = _itimediff(
		tsFlush,
		current,
	)
	for k := range Ukcp.SndBuf {
		Seg := &Ukcp.SndBuf[k]
		diff := _itimediff(
			Seg.ResendTs,
			current,
		)
		if diff <= 0 {
			return current
		}
		if diff < tmPacket {
			tmPacket = diff
		}
	}
	minimal = uint32(
		tmPacket,
	)
	if tmPacket >= tmFlush {
		minimal = uint32(
			tmFlush,
		)
	}
	if minimal >= Ukcp.interval {
		minimal = Ukcp.interval
	}
	return current + minimal
}

// SetMtu changes MTU size.
// Default MTU is 1400 bytes.
func (
	Ukcp *UKCP,
) SetMtu(
	mtu int,
) bool {
	if mtu < 50 || mtu < UkcpOverhead {
		return false
	}
	if Ukcp.reserved >= int(
		Ukcp.mtu-UkcpOverhead,
	) || Ukcp.reserved < 0 {
		return false
	}
	buffer := make(
		[]byte,
		mtu,
	)
	Ukcp.mtu = uint32(
		mtu,
	)
	Ukcp.mss = Ukcp.mtu - UkcpOverhead - uint32(
		Ukcp.reserved,
	)
	Ukcp.buffer = buffer
	return true
}

// NoDelay options:
// * fastest:	ukcp_nodelay(Ukcp, 1, 20, 2, 1)
// * nodelay:	0: disable (default), 1: enable
// * interval:	internal update timer interval in milliseconds, defaults to 100ms
// * resend:	0: disable fast resends (default), 1: enable fast resends
// * nc:		0: normal congestion control (default), 1: disable congestion control
func (
	Ukcp *UKCP,
) NoDelay(
	nodelay,
	interval,
	resend,
	nc int,
) int {
	if nodelay >= 0 {
		Ukcp.nodelay = uint32(
			nodelay,
		)
		if nodelay != 0 {
			Ukcp.rxMinRto = UkcpRtoNdl
		} else {
			Ukcp.rxMinRto = UkcpRtoMin
		}
	}
	if interval >= 0 {
		if interval > 5000 {
			interval = 5000
		} else if interval < 10 {
			interval = 10
		}
		Ukcp.interval = uint32(
			interval,
		)
	}
	if resend >= 0 {
		Ukcp.fastresend = int32(
			resend,
		)
	}
	if nc >= 0 {
		Ukcp.nocwnd = int32(
			nc,
		)
	}
	return 0
}

// WndSize sets maximum window size (defaults: sndwnd=32, rcvwnd=128)
func (
	Ukcp *UKCP,
) WndSize(
	sndwnd,
	rcvwnd int,
) int {
	if sndwnd > 0 {
		Ukcp.sndWnd = uint32(
			sndwnd,
		)
	}
	if rcvwnd > 0 {
		Ukcp.rcvWnd = uint32(
			rcvwnd,
		)
	}
	return 0
}

// WaitSnd shows how many packets are queued to be sent
func (
	Ukcp *UKCP,
) WaitSnd() int {
	return len(
		Ukcp.SndBuf,
	) + len(
		Ukcp.sndQueue,
	)
}

// IsDead reports whether some segment has been retransmitted past
// the dead-link count. Advisory only: the control block keeps
// operating and the caller decides whether to tear down.
func (
	Ukcp *UKCP,
) IsDead() bool {
	return Ukcp.state == 0xFFFFFFFF
}

func (
	Ukcp *UKCP,
) removeFront(
	q []Segment,
	n int,
) []Segment {
	if n > cap(
		q,
	)/2 {
		newn := copy(
			q,
			q[n:],
		)
		return q[:newn]
	}
	return q[n:]
}

func init() {
	debug.SetGCPercent(
		180,
	)
	ukcpLegal.RegisterLicense(
		"\nThe MIT License (MIT)\n\nCopyright © 2015 Daniel Fu <daniel820313@gmail.com>.\nCopyright © 2019 Loki 'l0k18' Verloren <stalker.loki@protonmail.ch>.\nCopyright © 2021 Gridfinity, LLC. <admin@gridfinity.com>.\nCopyright © 2025 Jin Long <longjin@dragonos.org>.\n\nPermission is hereby granted, free of charge, to any person obtaining a copy\nof this software and associated documentation files (the \"Software\"), to deal\nin the Software without restriction, including, without limitation, the rights\nto use, copy, modify, merge, publish, distribute, sub-license, and/or sell\ncopies of the Software, and to permit persons to whom the Software is\nfurnished to do so, subject to the following conditions:\n\nThe above copyright notice, and this permission notice, shall be\nincluded in all copies, or substantial portions, of the Software.\n\nTHE SOFTWARE IS PROVIDED \"AS IS\", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR\nIMPLIED, INCLUDING, BUT NOT LIMITED TO, THE WARRANTIES OF MERCHANTABILITY,\nFITNESS FOR A PARTICULAR PURPOSE, AND NON-INFRINGEMENT. IN NO EVENT SHALL THE\nAUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES, OR OTHER\nLIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,\nOUT OF, OR IN CONNECTION WITH THE SOFTWARE, OR THE USE OR OTHER DEALINGS IN\nTHE SOFTWARE.\n",
	)
}
