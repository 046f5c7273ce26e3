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
	"fmt"
	"sync/atomic"
)

// Snsi == Simple Network Statistics Indicators
type Snsi struct {
	UkcpBytesSent                  uint64 // Bytes sent from upper level
	UkcpBytesReceived              uint64 // Bytes received to upper level
	UkcpMaxConn                    uint64 // Max number of connections ever reached
	UkcpActiveOpen                 uint64 // Accumulated active open connections
	UkcpPassiveOpen                uint64 // Accumulated passive open connections
	UkcpNowEstablished             uint64 // Current number of established connections
	UkcpPreInputErrors             uint64 // UDP read errors reported from net.PacketConn
	UkcpInputErrors                uint64 // Packet input errors reported from UKCP
	UkcpInputPackets               uint64 // Incoming packets count
	UkcpOutputPackets              uint64 // Outgoing packets count
	UkcpInputSegments              uint64 // Incoming UKCP Segments
	UkcpOutputSegments             uint64 // Outgoing UKCP Segments
	UkcpInputBytes                 uint64 // UDP bytes received
	UkcpOutputBytes                uint64 // UDP bytes sent
	UkcpRetransmittedSegments      uint64 // Accumulated retransmitted Segments
	FastUkcpRetransmittedSegments  uint64 // Accumulated fast retransmitted Segments
	EarlyUkcpRetransmittedSegments uint64 // Accumulated early retransmitted Segments
	UkcpLostSegments               uint64 // Number of segs inferred as lost
	UkcpDupSegments                uint64 // Number of segs duplicated
	UkcpFECRecovered               uint64 // Correct packets recovered from FEC
	UkcpFailures                   uint64 // Incorrect packets recovered from FEC
	UkcpFECParityShards            uint64 // FEC Segments received
	UkcpFECRuntShards              uint64 // Number of data shards insufficient for recovery
}

func newSnsi() *Snsi {
	return new(
		Snsi,
	)
}

// Header returns all field names
func (
	s *Snsi,
) Header() []string {
	return []string{
		"UkcpBytesSent",
		"UkcpBytesReceived",
		"UkcpMaxConn",
		"UkcpActiveOpen",
		"UkcpPassiveOpen",
		"UkcpNowEstablished",
		"UkcpPreInputErrors",
		"UkcpInputErrors",
		"UkcpInputPackets",
		"UkcpOutputPackets",
		"UkcpInputSegments",
		"UkcpOutputSegments",
		"UkcpInputBytes",
		"UkcpOutputBytes",
		"UkcpRetransmittedSegments",
		"FastUkcpRetransmittedSegments",
		"EarlyUkcpRetransmittedSegments",
		"UkcpLostSegments",
		"UkcpDupSegments",
		"UkcpFECParityShards",
		"UkcpFailures",
		"UkcpFECRecovered",
		"UkcpFECRuntShards",
	}
}

// ToSlice returns current Snsi info as a slice
func (
	s *Snsi,
) ToSlice() []string {
	snsi := s.Copy()
	return []string{
		fmt.Sprint(
			snsi.UkcpBytesSent,
		),
		fmt.Sprint(
			snsi.UkcpBytesReceived,
		),
		fmt.Sprint(
			snsi.UkcpMaxConn,
		),
		fmt.Sprint(
			snsi.UkcpActiveOpen,
		),
		fmt.Sprint(
			snsi.UkcpPassiveOpen,
		),
		fmt.Sprint(
			snsi.UkcpNowEstablished,
		),
		fmt.Sprint(
			snsi.UkcpPreInputErrors,
		),
		fmt.Sprint(
			snsi.UkcpInputErrors,
		),
		fmt.Sprint(
			snsi.UkcpInputPackets,
		),
		fmt.Sprint(
			snsi.UkcpOutputPackets,
		),
		fmt.Sprint(
			snsi.UkcpInputSegments,
		),
		fmt.Sprint(
			snsi.UkcpOutputSegments,
		),
		fmt.Sprint(
			snsi.UkcpInputBytes,
		),
		fmt.Sprint(
			snsi.UkcpOutputBytes,
		),
		fmt.Sprint(
			snsi.UkcpRetransmittedSegments,
		),
		fmt.Sprint(
			snsi.FastUkcpRetransmittedSegments,
		),
		fmt.Sprint(
			snsi.EarlyUkcpRetransmittedSegments,
		),
		fmt.Sprint(
			snsi.UkcpLostSegments,
		),
		fmt.Sprint(
			snsi.UkcpDupSegments,
		),
		fmt.Sprint(
			snsi.UkcpFECParityShards,
		),
		fmt.Sprint(
			snsi.UkcpFailures,
		),
		fmt.Sprint(
			snsi.UkcpFECRecovered,
		),
		fmt.Sprint(
			snsi.UkcpFECRuntShards,
		),
	}
}

// Copy makes a copy of current Snsi snapshot
func (
	s *Snsi,
) Copy() *Snsi {
	d := newSnsi()
	d.UkcpBytesSent = atomic.LoadUint64(
		&s.UkcpBytesSent,
	)
	d.UkcpBytesReceived = atomic.LoadUint64(
		&s.UkcpBytesReceived,
	)
	d.UkcpMaxConn = atomic.LoadUint64(
		&s.UkcpMaxConn,
	)
	d.UkcpActiveOpen = atomic.LoadUint64(
		&s.UkcpActiveOpen,
	)
	d.UkcpPassiveOpen = atomic.LoadUint64(
		&s.UkcpPassiveOpen,
	)
	d.UkcpNowEstablished = atomic.LoadUint64(
		&s.UkcpNowEstablished,
	)
	d.UkcpPreInputErrors = atomic.LoadUint64(
		&s.UkcpPreInputErrors,
	)
	d.UkcpInputErrors = atomic.LoadUint64(
		&s.UkcpInputErrors,
	)
	d.UkcpInputPackets = atomic.LoadUint64(
		&s.UkcpInputPackets,
	)
	d.UkcpOutputPackets = atomic.LoadUint64(
		&s.UkcpOutputPackets,
	)
	d.UkcpInputSegments = atomic.LoadUint64(
		&s.UkcpInputSegments,
	)
	d.UkcpOutputSegments = atomic.LoadUint64(
		&s.UkcpOutputSegments,
	)
	d.UkcpInputBytes = atomic.LoadUint64(
		&s.UkcpInputBytes,
	)
	d.UkcpOutputBytes = atomic.LoadUint64(
		&s.UkcpOutputBytes,
	)
	d.UkcpRetransmittedSegments = atomic.LoadUint64(
		&s.UkcpRetransmittedSegments,
	)
	d.FastUkcpRetransmittedSegments = atomic.LoadUint64(
		&s.FastUkcpRetransmittedSegments,
	)
	d.EarlyUkcpRetransmittedSegments = atomic.LoadUint64(
		&s.EarlyUkcpRetransmittedSegments,
	)
	d.UkcpLostSegments = atomic.LoadUint64(
		&s.UkcpLostSegments,
	)
	d.UkcpDupSegments = atomic.LoadUint64(
		&s.UkcpDupSegments,
	)
	d.UkcpFECParityShards = atomic.LoadUint64(
		&s.UkcpFECParityShards,
	)
	d.UkcpFailures = atomic.LoadUint64(
		&s.UkcpFailures,
	)
	d.UkcpFECRecovered = atomic.LoadUint64(
		&s.UkcpFECRecovered,
	)
	d.UkcpFECRuntShards = atomic.LoadUint64(
		&s.UkcpFECRuntShards,
	)
	return d
}

// Reset sets all Snsi values to zero
func (s *Snsi) Reset() {
	atomic.StoreUint64(
		&s.UkcpBytesSent,
		0,
	)
	atomic.StoreUint64(
		&s.UkcpBytesReceived,
		0,
	)
	atomic.StoreUint64(
		&s.UkcpMaxConn,
		0,
	)
	atomic.StoreUint64(
		&s.UkcpActiveOpen,
		0,
	)
	atomic.StoreUint64(
		&s.UkcpPassiveOpen,
		0,
	)
	atomic.StoreUint64(
		&s.UkcpNowEstablished,
		0,
	)
	atomic.StoreUint64(
		&s.UkcpPreInputErrors,
		0,
	)
	atomic.StoreUint64(
		&s.UkcpInputErrors,
		0,
	)
	atomic.StoreUint64(
		&s.UkcpInputPackets,
		0,
	)
	atomic.StoreUint64(
		&s.UkcpOutputPackets,
		0,
	)
	atomic.StoreUint64(
		&s.UkcpInputSegments,
		0,
	)
	atomic.StoreUint64(
		&s.UkcpOutputSegments,
		0,
	)
	atomic.StoreUint64(
		&s.UkcpInputBytes,
		0,
	)
	atomic.StoreUint64(
		&s.UkcpOutputBytes,
		0,
	)
	atomic.StoreUint64(
		&s.UkcpRetransmittedSegments,
		0,
	)
	atomic.StoreUint64(
		&s.FastUkcpRetransmittedSegments,
		0,
	)
	atomic.StoreUint64(
		&s.EarlyUkcpRetransmittedSegments,
		0,
	)
	atomic.StoreUint64(
		&s.UkcpLostSegments,
		0,
	)
	atomic.StoreUint64(
		&s.UkcpDupSegments,
		0,
	)
	atomic.StoreUint64(
		&s.UkcpFECParityShards,
		0,
	)
	atomic.StoreUint64(
		&s.UkcpFailures,
		0,
	)
	atomic.StoreUint64(
		&s.UkcpFECRecovered,
		0,
	)
	atomic.StoreUint64(
		&s.UkcpFECRuntShards,
		0,
	)
}

// DefaultSnsi is the UKCP default statistics collector
var (
	DefaultSnsi *Snsi
)

func init() {
	DefaultSnsi = newSnsi()
}
