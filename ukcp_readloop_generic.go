// Copyright © 2015 Daniel Fu <daniel820313@gmail.com>.
// Copyright © 2019 Loki 'l0k18' Verloren <stalker.loki@protonmail.ch>.
// Copyright © 2021 Gridfinity, LLC. <admin@gridfinity.com>.
// Copyright © 2025 Jin Long <longjin@dragonos.org>.
//
// All rights reserved.
//
// All use of this code is governed by the MIT license.
// The complete license is available in the LICENSE file.

//go:build !linux
// +build !linux

package ukcp // import "github.com/fslongjin/ultra-kcp"

func (
	s *UDPSession,
) readLoop() {
	s.defaultReadLoop()
}

func (
	l *Listener,
) monitor() {
	l.defaultMonitor()
}
