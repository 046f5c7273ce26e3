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
	"sync/atomic"
)

func (
	s *UDPSession,
) defaultReadLoop() {
	buf := make(
		[]byte,
		UkcpMtuLimit,
	)
	var src string
	for {
		if n, addr, err := s.conn.ReadFrom(
			buf,
		); err == nil {
			if src == "" {
				src = addr.String()
			} else if addr.String() != src {
				atomic.AddUint64(
					&DefaultSnsi.UkcpInputErrors,
					1,
				)
				continue
			}
			if n >= s.headerSize+UkcpOverhead {
				s.packetInput(
					buf[:n],
				)
			} else {
				atomic.AddUint64(
					&DefaultSnsi.UkcpInputErrors,
					1,
				)
			}
		} else {
			s.chReadError <- err
			return
		}
	}
}

func (
	l *Listener,
) defaultMonitor() {
	buf := make(
		[]byte,
		UkcpMtuLimit,
	)
	for {
		if n, from, err := l.conn.ReadFrom(
			buf,
		); err == nil {
			if n >= l.headerSize+UkcpOverhead {
				l.packetInput(
					buf[:n],
					from,
				)
			} else {
				atomic.AddUint64(
					&DefaultSnsi.UkcpInputErrors,
					1,
				)
			}
		} else {
			return
		}
	}
}
