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
	"math/rand"
	"testing"

	ukcp "github.com/fslongjin/ultra-kcp"
)

func TestFECRecovery(
	t *testing.T,
) {
	const (
		dataSize   = 3
		paritySize = 2
		payLoad    = 100
	)
	encoder := ukcp.NewFECEncoder(
		dataSize,
		paritySize,
		0,
	)
	decoder := ukcp.NewFECDecoder(
		1024,
		dataSize,
		paritySize,
	)
	if encoder == nil || decoder == nil {
		t.Fatal(
			"codec construction failed",
		)
	}
	// headerOffset 0: seqid(4) + flag(2) + size(2) + payload
	msgs := make(
		[][]byte,
		dataSize,
	)
	datapkts := make(
		[][]byte,
		dataSize,
	)
	var parity [][]byte
	for i := 0; i < dataSize; i++ {
		msg := make(
			[]byte,
			payLoad,
		)
		for j := range msg {
			msg[j] = byte(i + j)
		}
		msgs[i] = msg
		pkt := make(
			[]byte,
			8+payLoad,
		)
		copy(
			pkt[8:],
			msg,
		)
		ps := encoder.Encode(
			pkt,
		)
		datapkts[i] = append(
			[]byte(nil),
			pkt...,
		)
		for _, p := range ps {
			parity = append(
				parity,
				append(
					[]byte(nil),
					p...,
				),
			)
		}
	}
	if len(parity) != paritySize {
		t.Fatalf(
			"expected %d parity shards, got %d",
			paritySize,
			len(parity),
		)
	}
	// lose the first data shard on the wire, deliver the rest
	var recovered [][]byte
	for _, pkt := range datapkts[1:] {
		recovered = append(
			recovered,
			decoder.Decode(
				pkt,
			)...,
		)
	}
	for _, pkt := range parity {
		recovered = append(
			recovered,
			decoder.Decode(
				pkt,
			)...,
		)
	}
	if len(recovered) != 1 {
		t.Fatalf(
			"expected one recovered shard, got %d",
			len(recovered),
		)
	}
	r := recovered[0]
	if len(r) < 2 {
		t.Fatalf(
			"recovered shard too short: %d",
			len(r),
		)
	}
	sz := binary.LittleEndian.Uint16(
		r,
	)
	if int(sz) > len(r) || sz < 2 {
		t.Fatalf(
			"recovered size prefix out of range: %d of %d",
			sz,
			len(r),
		)
	}
	if !bytes.Equal(
		r[2:sz],
		msgs[0],
	) {
		t.Fatal(
			"recovered payload differs from the lost shard",
		)
	}
}

func BenchmarkFECDecode1500(
	b *testing.B,
) {
	const (
		dataSize   = 10
		paritySize = 3
		payLoad    = 1500
	)
	decoder := ukcp.NewFECDecoder(
		1024,
		dataSize,
		paritySize,
	)
	b.ReportAllocs()
	b.SetBytes(
		payLoad,
	)
	for i := 0; i < b.N; i++ {
		if rand.Int()%(dataSize+paritySize) == 0 {
			continue
		}
		pkt := make(
			[]byte,
			payLoad,
		)
		binary.LittleEndian.PutUint32(
			pkt,
			uint32(i),
		)
		if i%(dataSize+paritySize) >= dataSize {
			binary.LittleEndian.PutUint16(
				pkt[4:],
				ukcp.KTypeParity,
			)
		} else {
			binary.LittleEndian.PutUint16(
				pkt[4:],
				ukcp.KTypeData,
			)
		}
		decoder.Decode(
			pkt,
		)
	}
}

func BenchmarkFECEncode1500(
	b *testing.B,
) {
	const dataSize = 10
	const paritySize = 3
	const payLoad = 1500
	b.ReportAllocs()
	b.SetBytes(
		payLoad,
	)
	Encoder := ukcp.NewFECEncoder(
		dataSize,
		paritySize,
		0,
	)
	for i := 0; i < b.N; i++ {
		data := make(
			[]byte,
			payLoad,
		)
		Encoder.Encode(
			data,
		)
	}
}

func BenchmarkFECDecode9000(
	b *testing.B,
) {
	const (
		dataSize   = 10
		paritySize = 3
		payLoad    = 9000
	)
	decoder := ukcp.NewFECDecoder(
		1024,
		dataSize,
		paritySize,
	)
	b.ReportAllocs()
	b.SetBytes(
		payLoad,
	)
	for i := 0; i < b.N; i++ {
		if rand.Int()%(dataSize+paritySize) == 0 {
			continue
		}
		pkt := make(
			[]byte,
			payLoad,
		)
		binary.LittleEndian.PutUint32(
			pkt,
			uint32(i),
		)
		if i%(dataSize+paritySize) >= dataSize {
			binary.LittleEndian.PutUint16(
				pkt[4:],
				ukcp.KTypeParity,
			)
		} else {
			binary.LittleEndian.PutUint16(
				pkt[4:],
				ukcp.KTypeData,
			)
		}
		decoder.Decode(
			pkt,
		)
	}
}

func BenchmarkFECEncode9000(
	b *testing.B,
) {
	const dataSize = 10
	const paritySize = 3
	const payLoad = 9000
	b.ReportAllocs()
	b.SetBytes(
		payLoad,
	)
	Encoder := ukcp.NewFECEncoder(
		dataSize,
		paritySize,
		0,
	)
	for i := 0; i < b.N; i++ {
		data := make(
			[]byte,
			payLoad,
		)
		Encoder.Encode(
			data,
		)
	}
}
