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
	"crypto/rand"
	"io"

	hh "github.com/minio/highwayhash"
)

// Entropy defines an entropy source. Dialed sessions draw their
// conversation ids from it.
type Entropy interface {
	Init()
	Fill(
		nonce []byte,
	)
}

// UkcpNonce is the default Entropy: a chained highwayhash stream
// seeded once from crypto/rand.
type UkcpNonce struct {
	seed [hh.Size]byte
}

// Init ...
func (
	n *UkcpNonce,
) Init() {
}

// Fill ...
func (
	n *UkcpNonce,
) Fill(
	nonce []byte,
) {
	var err error
	if n.seed[0] == 0 {
		_, err = io.ReadFull(
			rand.Reader,
			n.seed[:],
		)
		if err != nil {
			panic(
				"io.ReadFull failure",
			)
		}
	}
	n.seed = hh.Sum(
		n.seed[:],
		n.seed[:],
	)
	copy(
		nonce,
		n.seed[:],
	)
}
