// Copyright © 2015 Daniel Fu <daniel820313@gmail.com>.
// Copyright © 2019 Loki 'l0k18' Verloren <stalker.loki@protonmail.ch>.
// Copyright © 2021 Gridfinity, LLC. <admin@gridfinity.com>.
// Copyright © 2025 Jin Long <longjin@dragonos.org>.
//
// All rights reserved.
//
// All use of this code is governed by the MIT license.
// The complete license is available in the LICENSE file.

package ukcp_test

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/rand"
	"runtime"
	"testing"

	ukcp "github.com/fslongjin/ultra-kcp"
	u "github.com/johnsonjh/leaktestfe"
	licn "go4.org/legal"
)

func TestArchitecture(
	t *testing.T,
) {
	defer u.Leakplug(
		t,
	)
	is64bit := uint64(^uintptr(0)) == ^uint64(0)
	if !is64bit {
		t.Fatal(
			"\n\t*** Platform is not 64-bit, unsupported architecture",
		)
	}
}

func TestGoEnvironment(
	t *testing.T,
) {
	defer u.Leakplug(
		t,
	)
	t.Log(
		fmt.Sprintf(
			"\n\tCompiler:\t%v (%v)\n\tSystem:\t\t%v/%v\n\tCPU(s):\t\t%v logical processor(s)\n\tGOMAXPROCS:\t%v\n",
			runtime.Compiler,
			runtime.Version(),
			runtime.GOOS,
			runtime.GOARCH,
			runtime.NumCPU(),
			runtime.GOMAXPROCS(
				-1,
			),
		),
	)
}

func TestUkcpLicense(
	t *testing.T,
) {
	defer u.Leakplug(
		t,
	)
	licenses := licn.Licenses()
	if len(
		licenses,
	) == 0 {
		t.Fatal(
			"\n\nukcp_test.TestUkcpLicense FAILURE",
		)
	} else {
		t.Log(
			fmt.Sprintf(
				"\n\n%v\n",
				licenses,
			),
		)
	}
}

// packetLog captures every buffer the control block hands to its
// output sink, one carrier packet per call.
type packetLog struct {
	pkts [][]byte
}

func (p *packetLog) sink() func(buf []byte, size int) {
	return func(
		buf []byte,
		size int,
	) {
		pkt := make(
			[]byte,
			size,
		)
		copy(
			pkt,
			buf[:size],
		)
		p.pkts = append(
			p.pkts,
			pkt,
		)
	}
}

func (p *packetLog) take() [][]byte {
	out := p.pkts
	p.pkts = nil
	return out
}

type wireSeg struct {
	conv uint32
	cmd  uint8
	frg  uint8
	wnd  uint16
	ts   uint32
	sn   uint32
	una  uint32
	data []byte
}

func parseSegments(
	t *testing.T,
	pkt []byte,
) (segs []wireSeg) {
	t.Helper()
	for len(pkt) > 0 {
		if len(pkt) < ukcp.UkcpOverhead {
			t.Fatalf(
				"truncated segment header: %d bytes left",
				len(pkt),
			)
		}
		var s wireSeg
		s.conv = binary.LittleEndian.Uint32(pkt)
		s.cmd = pkt[4]
		s.frg = pkt[5]
		s.wnd = binary.LittleEndian.Uint16(pkt[6:])
		s.ts = binary.LittleEndian.Uint32(pkt[8:])
		s.sn = binary.LittleEndian.Uint32(pkt[12:])
		s.una = binary.LittleEndian.Uint32(pkt[16:])
		length := binary.LittleEndian.Uint32(pkt[20:])
		if int(length) > len(pkt)-ukcp.UkcpOverhead {
			t.Fatalf(
				"segment length %d exceeds packet remainder %d",
				length,
				len(pkt)-ukcp.UkcpOverhead,
			)
		}
		s.data = pkt[ukcp.UkcpOverhead : ukcp.UkcpOverhead+int(length)]
		segs = append(
			segs,
			s,
		)
		pkt = pkt[ukcp.UkcpOverhead+int(length):]
	}
	return segs
}

func testPayload(n int) []byte {
	b := make(
		[]byte,
		n,
	)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestHelloRoundTrip(
	t *testing.T,
) {
	defer u.Leakplug(
		t,
	)
	cfg := ukcp.Config{
		Mtu:          1400,
		SndWnd:       32,
		RcvWnd:       128,
		Interval:     10,
		NoCongestion: 1,
	}
	var alog packetLog
	a := ukcp.NewUKCP(
		0x11223344,
		cfg,
		ukcp.Callbacks{
			Output: alog.sink(),
		})
	n, err := a.Send(
		[]byte("hello"),
	)
	if err != nil || n != 5 {
		t.Fatalf(
			"Send: n=%d err=%v",
			n,
			err,
		)
	}
	a.Flush(
		10,
		false,
	)
	pkts := alog.take()
	if len(pkts) != 1 {
		t.Fatalf(
			"one flush should emit one packet, got %d",
			len(pkts),
		)
	}
	segs := parseSegments(
		t,
		pkts[0],
	)
	if len(segs) != 1 {
		t.Fatalf(
			"expected one push segment, got %d",
			len(segs),
		)
	}
	if segs[0].cmd != ukcp.UkcpCmdPush || segs[0].frg != 0 || len(segs[0].data) != 5 {
		t.Fatalf(
			"push segment cmd=%d frg=%d len=%d",
			segs[0].cmd,
			segs[0].frg,
			len(segs[0].data),
		)
	}

	var blog packetLog
	b := ukcp.NewUKCP(
		0x11223344,
		cfg,
		ukcp.Callbacks{
			Output: blog.sink(),
		})
	if ret := b.Input(
		pkts[0],
		true,
		false,
	); ret != 0 {
		t.Fatalf(
			"Input: %d",
			ret,
		)
	}
	short := make(
		[]byte,
		4,
	)
	if _, err := b.Recv(
		short,
		false,
	); err != ukcp.ErrBufferTooSmall {
		t.Fatalf(
			"short buffer: %v",
			err,
		)
	}
	buf := make(
		[]byte,
		5,
	)
	n, err = b.Recv(
		buf,
		false,
	)
	if err != nil || n != 5 || string(buf) != "hello" {
		t.Fatalf(
			"Recv: n=%d err=%v buf=%q",
			n,
			err,
			buf,
		)
	}
	if _, err := b.Recv(
		buf,
		false,
	); err != ukcp.ErrQueueEmpty {
		t.Fatalf(
			"drained queue: %v",
			err,
		)
	}
}

func TestFragmentReassemblyOutOfOrder(
	t *testing.T,
) {
	defer u.Leakplug(
		t,
	)
	cfg := ukcp.Config{
		Mtu:          1400,
		Interval:     10,
		NoCongestion: 1,
	}
	var alog packetLog
	a := ukcp.NewUKCP(
		7,
		cfg,
		ukcp.Callbacks{
			Output: alog.sink(),
		})
	msg := testPayload(
		3000,
	)
	if n, err := a.Send(
		msg,
	); err != nil || n != 3000 {
		t.Fatalf(
			"Send: n=%d err=%v",
			n,
			err,
		)
	}
	a.Flush(
		10,
		false,
	)
	pkts := alog.take()
	if len(pkts) != 3 {
		t.Fatalf(
			"3000 bytes at mss 1376 should flush as 3 packets, got %d",
			len(pkts),
		)
	}

	b := ukcp.NewUKCP(
		7,
		cfg,
		ukcp.Callbacks{
			Output: (&packetLog{}).sink(),
		})
	b.Input(
		pkts[0],
		true,
		false,
	)
	if _, err := b.PeekSize(); err != ukcp.ErrIncompleteMessage {
		t.Fatalf(
			"after first fragment: %v",
			err,
		)
	}
	// deliver the tail fragment before the middle one
	b.Input(
		pkts[2],
		true,
		false,
	)
	if _, err := b.PeekSize(); err != ukcp.ErrIncompleteMessage {
		t.Fatalf(
			"with a gap in the middle: %v",
			err,
		)
	}
	b.Input(
		pkts[1],
		true,
		false,
	)
	size, err := b.PeekSize()
	if err != nil || size != 3000 {
		t.Fatalf(
			"PeekSize: size=%d err=%v",
			size,
			err,
		)
	}
	if _, err := b.Recv(
		make(
			[]byte,
			2999,
		),
		false,
	); err != ukcp.ErrBufferTooSmall {
		t.Fatalf(
			"undersized buffer: %v",
			err,
		)
	}
	out := make(
		[]byte,
		3000,
	)
	n, err := b.Recv(
		out,
		false,
	)
	if err != nil || n != 3000 {
		t.Fatalf(
			"Recv: n=%d err=%v",
			n,
			err,
		)
	}
	if !bytes.Equal(
		out,
		msg,
	) {
		t.Fatal(
			"reassembled message differs from the original",
		)
	}
}

func TestDuplicateSegmentIdempotence(
	t *testing.T,
) {
	defer u.Leakplug(
		t,
	)
	cfg := ukcp.Config{
		Interval:     10,
		NoCongestion: 1,
	}
	var alog packetLog
	a := ukcp.NewUKCP(
		9,
		cfg,
		ukcp.Callbacks{
			Output: alog.sink(),
		})
	a.Send(
		[]byte("hi"),
	)
	a.Flush(
		10,
		false,
	)
	pkts := alog.take()
	b := ukcp.NewUKCP(
		9,
		cfg,
		ukcp.Callbacks{
			Output: (&packetLog{}).sink(),
		})
	b.Input(
		pkts[0],
		true,
		false,
	)
	b.Input(
		pkts[0],
		true,
		false,
	)
	buf := make(
		[]byte,
		16,
	)
	n, err := b.Recv(
		buf,
		false,
	)
	if err != nil || n != 2 {
		t.Fatalf(
			"Recv: n=%d err=%v",
			n,
			err,
		)
	}
	if _, err := b.Recv(
		buf,
		false,
	); err != ukcp.ErrQueueEmpty {
		t.Fatalf(
			"duplicate must not requeue data: %v",
			err,
		)
	}
	// a late duplicate after consumption is also ignored
	b.Input(
		pkts[0],
		true,
		false,
	)
	if _, err := b.Recv(
		buf,
		false,
	); err != ukcp.ErrQueueEmpty {
		t.Fatalf(
			"late duplicate must not requeue data: %v",
			err,
		)
	}
}

func TestStreamCoalesce(
	t *testing.T,
) {
	defer u.Leakplug(
		t,
	)
	cfg := ukcp.Config{
		Interval:     10,
		Stream:       true,
		NoCongestion: 1,
	}
	var alog packetLog
	a := ukcp.NewUKCP(
		3,
		cfg,
		ukcp.Callbacks{
			Output: alog.sink(),
		})
	for i := 0; i < 3; i++ {
		if n, err := a.Send(
			[]byte{byte('a' + i)},
		); err != nil || n != 1 {
			t.Fatalf(
				"Send %d: n=%d err=%v",
				i,
				n,
				err,
			)
		}
	}
	if a.WaitSnd() != 1 {
		t.Fatalf(
			"three 1-byte stream sends should coalesce into one segment, have %d",
			a.WaitSnd(),
		)
	}
	a.Flush(
		10,
		false,
	)
	pkts := alog.take()
	segs := parseSegments(
		t,
		pkts[0],
	)
	if len(segs) != 1 || segs[0].frg != 0 || string(segs[0].data) != "abc" {
		t.Fatalf(
			"coalesced segment: %d segs, frg=%d data=%q",
			len(segs),
			segs[0].frg,
			segs[0].data,
		)
	}
}

func TestSendWindowFull(
	t *testing.T,
) {
	defer u.Leakplug(
		t,
	)
	cfg := ukcp.Config{
		Mtu:          1400,
		RcvWnd:       8,
		Interval:     10,
		NoCongestion: 1,
	}
	a := ukcp.NewUKCP(
		5,
		cfg,
		ukcp.Callbacks{
			Output: (&packetLog{}).sink(),
		})
	big := testPayload(
		9 * 1376,
	)
	n, err := a.Send(
		big,
	)
	if err != ukcp.ErrWindowFull || n != 0 {
		t.Fatalf(
			"oversized send: n=%d err=%v",
			n,
			err,
		)
	}
	if a.WaitSnd() != 0 {
		t.Fatalf(
			"rejected send must not queue segments, have %d",
			a.WaitSnd(),
		)
	}
}

func TestWindowTellAfterFullQueue(
	t *testing.T,
) {
	defer u.Leakplug(
		t,
	)
	var alog packetLog
	a := ukcp.NewUKCP(
		21,
		ukcp.Config{
			Interval:     10,
			NoCongestion: 1,
		},
		ukcp.Callbacks{
			Output: alog.sink(),
		})
	var blog packetLog
	b := ukcp.NewUKCP(
		21,
		ukcp.Config{
			Interval: 10,
			RcvWnd:   2,
		},
		ukcp.Callbacks{
			Output: blog.sink(),
		})
	for i := 0; i < 4; i++ {
		a.Send(
			testPayload(
				10,
			),
		)
	}
	a.Flush(
		10,
		false,
	)
	for _, pkt := range alog.take() {
		b.Input(
			pkt,
			true,
			false,
		)
	}
	buf := make(
		[]byte,
		10,
	)
	if n, err := b.Recv(
		buf,
		false,
	); err != nil || n != 10 {
		t.Fatalf(
			"Recv: n=%d err=%v",
			n,
			err,
		)
	}
	b.Flush(
		20,
		false,
	)
	sawTell := false
	for _, pkt := range blog.take() {
		for _, seg := range parseSegments(
			t,
			pkt,
		) {
			if seg.cmd == ukcp.UkcpCmdWins {
				sawTell = true
			}
		}
	}
	if !sawTell {
		t.Fatal(
			"draining a full receive queue must schedule a window report",
		)
	}
}

func TestOrderedDeliveryWindowSafety(
	t *testing.T,
) {
	defer u.Leakplug(
		t,
	)
	cfg := ukcp.Config{
		SndWnd:   8,
		RcvWnd:   128,
		NoDelay:  1,
		Interval: 10,
		Resend:   2,
	}
	var alog, blog packetLog
	a := ukcp.NewUKCP(
		42,
		cfg,
		ukcp.Callbacks{
			Output: alog.sink(),
		})
	b := ukcp.NewUKCP(
		42,
		cfg,
		ukcp.Callbacks{
			Output: blog.sink(),
		})
	const msgcount = 50
	sent := make(
		[][]byte,
		msgcount,
	)
	for i := range sent {
		msg := testPayload(
			300,
		)
		msg[0] = byte(i)
		sent[i] = msg
		if _, err := a.Send(
			msg,
		); err != nil {
			t.Fatalf(
				"Send %d: %v",
				i,
				err,
			)
		}
	}
	var received [][]byte
	buf := make(
		[]byte,
		600,
	)
	current := uint32(0)
	for step := 0; step < 2000 && len(received) < msgcount; step++ {
		current += 10
		a.Update(
			current,
		)
		b.Update(
			current,
		)
		if len(a.SndBuf) > 8 {
			t.Fatalf(
				"send buffer %d exceeds the send window after flush",
				len(a.SndBuf),
			)
		}
		for _, pkt := range alog.take() {
			b.Input(
				pkt,
				true,
				false,
			)
		}
		for _, pkt := range blog.take() {
			a.Input(
				pkt,
				true,
				false,
			)
		}
		for {
			n, err := b.Recv(
				buf,
				false,
			)
			if err != nil {
				break
			}
			msg := make(
				[]byte,
				n,
			)
			copy(
				msg,
				buf[:n],
			)
			received = append(
				received,
				msg,
			)
		}
	}
	if len(received) != msgcount {
		t.Fatalf(
			"received %d of %d messages",
			len(received),
			msgcount,
		)
	}
	for i := range received {
		if !bytes.Equal(
			received[i],
			sent[i],
		) {
			t.Fatalf(
				"message %d out of order or corrupted",
				i,
			)
		}
	}
}

func TestLossRecovery(
	t *testing.T,
) {
	defer u.Leakplug(
		t,
	)
	cfg := ukcp.Config{
		SndWnd:   32,
		RcvWnd:   128,
		NoDelay:  1,
		Interval: 10,
		Resend:   2,
	}
	var alog, blog packetLog
	a := ukcp.NewUKCP(
		77,
		cfg,
		ukcp.Callbacks{
			Output: alog.sink(),
		})
	b := ukcp.NewUKCP(
		77,
		cfg,
		ukcp.Callbacks{
			Output: blog.sink(),
		})
	r := rand.New(
		rand.NewSource(
			42,
		),
	)
	retransBefore := ukcp.DefaultSnsi.Copy().UkcpRetransmittedSegments
	const msgcount = 20
	sent := make(
		[][]byte,
		msgcount,
	)
	for i := range sent {
		msg := testPayload(
			100,
		)
		msg[0] = byte(i)
		sent[i] = msg
		if _, err := a.Send(
			msg,
		); err != nil {
			t.Fatalf(
				"Send %d: %v",
				i,
				err,
			)
		}
	}
	var received [][]byte
	buf := make(
		[]byte,
		200,
	)
	current := uint32(0)
	for step := 0; step < 6000 && len(received) < msgcount; step++ {
		current += 10
		a.Update(
			current,
		)
		b.Update(
			current,
		)
		for _, pkt := range alog.take() {
			if r.Intn(
				100,
			) < 50 {
				continue // lost on the wire
			}
			b.Input(
				pkt,
				true,
				false,
			)
		}
		for _, pkt := range blog.take() {
			if r.Intn(
				100,
			) < 50 {
				continue
			}
			a.Input(
				pkt,
				true,
				false,
			)
		}
		for {
			n, err := b.Recv(
				buf,
				false,
			)
			if err != nil {
				break
			}
			msg := make(
				[]byte,
				n,
			)
			copy(
				msg,
				buf[:n],
			)
			received = append(
				received,
				msg,
			)
		}
	}
	if len(received) != msgcount {
		t.Fatalf(
			"received %d of %d messages through a lossy link",
			len(received),
			msgcount,
		)
	}
	for i := range received {
		if !bytes.Equal(
			received[i],
			sent[i],
		) {
			t.Fatalf(
				"message %d out of order or corrupted",
				i,
			)
		}
	}
	retransAfter := ukcp.DefaultSnsi.Copy().UkcpRetransmittedSegments
	if retransAfter == retransBefore {
		t.Fatal(
			"a lossy link must force retransmissions",
		)
	}
}

func TestDeadLinkAdvisory(
	t *testing.T,
) {
	defer u.Leakplug(
		t,
	)
	a := ukcp.NewUKCP(
		13,
		ukcp.Config{
			Interval:     10,
			NoCongestion: 1,
			DeadLink:     2,
		},
		ukcp.Callbacks{
			Output: (&packetLog{}).sink(),
		})
	a.Send(
		[]byte("doomed"),
	)
	current := uint32(10)
	for i := 0; i < 64 && !a.IsDead(); i++ {
		a.Flush(
			current,
			false,
		)
		current += 500
	}
	if !a.IsDead() {
		t.Fatal(
			"unacknowledged retransmissions past the dead-link count must flag the link",
		)
	}
}
