// Package deltabuf implements a compact, append-at-the-front delta log
// for a single metric's sample history. Each push records the change
// between two consecutive samples (and how many ticks separated them)
// as one to a few bytes; runs of zero deltas and runs of missing
// samples are run-length compressed.
package deltabuf

import "log/slog"

// Delta is one decoded entry from a DeltaBuf: either a signed change
// from the previous sample, or a tick for which no sample was taken.
type Delta struct {
	Kind  Kind
	Value uint64 // meaningful only when Kind != Skip
}

// Kind identifies which of the three wire symbols a Delta decodes to.
type Kind int

const (
	Positive Kind = iota
	Negative
	Skip
)

func (k Kind) String() string {
	switch k {
	case Positive:
		return "Positive"
	case Negative:
		return "Negative"
	case Skip:
		return "Skip"
	default:
		return "Unknown"
	}
}

// Byte-format constants. See spec §4.1 for the full layout: a symbol is either a continuation byte (top bit set) or a
// terminator byte (top bit clear). Terminators split further into
// special runs (skip/zero) and numeric deltas.
const (
	continuationBit  byte = 0b1000_0000
	continuationMask byte = 0b0111_1111
	specialBit       byte = 0b0100_0000
	specialBits      byte = 0b0110_0000
	specialMask      byte = 0b0001_1111
	skipBits         byte = 0b0110_0000
	zeroBits         byte = 0b0100_0000
	signBit          byte = 0b0010_0000
	firstByteMask    byte = 0b0001_1111

	continuationShift = 7
	firstByteShift    = 5

	// maxRunLength is the largest run length a single skip/zero
	// terminator can carry (5 payload bits).
	maxRunLength = 31
)

// DeltaBuf is a byte-packed, newest-at-the-front log of Deltas. The
// zero value is an empty, ready-to-use buffer.
//
// Bytes are stored front-to-back in emission order (index 0 is the
// newest byte). Prepending is the hot path, so the backing array keeps
// spare capacity at its head: data[head:] holds the logical content, and
// growing it shifts the window rather than sliding every byte on each
// push.
type DeltaBuf struct {
	data []byte // backing array; logical content is data[head:]
	head int
}

// New returns an empty DeltaBuf.
func New() *DeltaBuf {
	return &DeltaBuf{}
}

// Len returns the number of bytes currently stored (not the number of
// decoded Deltas).
func (b *DeltaBuf) Len() int {
	return len(b.data) - b.head
}

func (b *DeltaBuf) byteAt(i int) byte {
	return b.data[b.head+i]
}

func (b *DeltaBuf) setByteAt(i int, v byte) {
	b.data[b.head+i] = v
}

// pushFront prepends a single byte, growing the backing array with
// headroom when none remains.
func (b *DeltaBuf) pushFront(v byte) {
	if b.head == 0 {
		n := b.Len()
		spare := n + 16
		nd := make([]byte, spare+n)
		copy(nd[spare:], b.data[b.head:])
		b.data = nd
		b.head = spare
	}
	b.head--
	b.data[b.head] = v
}

// Push records a transition from oldValue to newValue observed
// ageGap ticks after the previous sample for this metric (ageGap == 1
// means consecutive ticks, no gap).
//
// A call with ageGap == 0 means the same tick was written twice; this
// is a caller bug, not a codec error, so it is logged and otherwise
// ignored rather than corrupting the buffer (spec §4.1 rule 1, §9 open
// question: preserved rather than hardened into a panic).
func (b *DeltaBuf) Push(oldValue, newValue uint64, ageGap uint64) {
	if ageGap == 0 {
		slog.Warn("deltabuf: duplicate write at same age")
		return
	}
	ageGap--
	for ageGap > 0 {
		cd := ageGap
		if cd > maxRunLength {
			cd = maxRunLength
		}
		b.pushFront(skipBits | byte(cd))
		ageGap -= cd
	}

	var delta uint64
	var sign byte
	if oldValue > newValue {
		delta = oldValue - newValue
		sign = signBit
	} else {
		delta = newValue - oldValue
	}

	if delta == 0 {
		if b.Len() > 0 {
			front := b.byteAt(0)
			if front&specialBits == zeroBits {
				count := front & specialMask
				if count < maxRunLength {
					b.setByteAt(0, (count+1)|zeroBits)
					return
				}
			}
		}
		b.pushFront(zeroBits | 1)
		return
	}

	b.pushFront(sign | (byte(delta) & firstByteMask))
	delta >>= firstByteShift
	for delta > 0 {
		b.pushFront(byte(delta&uint64(continuationMask)) | continuationBit)
		delta >>= continuationShift
	}
}

// Deltas decodes up to limit entries, newest first. Passing a limit of
// 0 returns an empty (non-nil-checked-by-caller) slice; pass a very
// large limit (e.g. math.MaxInt) to decode everything.
func (b *DeltaBuf) Deltas(limit int) []Delta {
	n := b.Len()
	// Every byte yields at most maxRunLength Deltas (a full skip/zero
	// run); bound the preallocation by that instead of trusting limit
	// verbatim, since callers pass math.MaxInt to mean "decode
	// everything" and that would overflow make's capacity check.
	res := make([]Delta, 0, min(limit, maxRunLength*n))
	var acc uint64
	for i := 0; i < n && len(res) < limit; i++ {
		byt := b.byteAt(i)
		if byt&continuationBit != 0 {
			acc = (acc << continuationShift) | uint64(byt&continuationMask)
			continue
		}
		if byt&specialBit != 0 {
			count := int(byt & specialMask)
			var kind Kind
			switch byt & specialBits {
			case skipBits:
				kind = Skip
			case zeroBits:
				kind = Positive
			default:
				panic("deltabuf: impossible terminator byte")
			}
			for j := 0; j < count && len(res) < limit; j++ {
				res = append(res, Delta{Kind: kind})
			}
			continue
		}
		acc = (acc << firstByteShift) | uint64(byt&firstByteMask)
		if byt&signBit != 0 {
			res = append(res, Delta{Kind: Negative, Value: acc})
		} else {
			res = append(res, Delta{Kind: Positive, Value: acc})
		}
		acc = 0
	}
	return res
}

// Truncate discards everything but the limit newest Deltas, rewriting
// the boundary run's count in place when the cut falls inside a
// skip/zero run. It returns the number of Deltas actually retained,
// which is limit unless the buffer held fewer.
func (b *DeltaBuf) Truncate(limit int) int {
	if limit == 0 {
		b.data = nil
		b.head = 0
		return 0
	}

	n := b.Len()
	counter := 0
	for i := 0; i < n; i++ {
		byt := b.byteAt(i)
		if byt&continuationBit != 0 {
			continue
		}
		if byt&specialBit != 0 {
			cnt := int(byt & specialMask)
			newCount := counter + cnt
			switch {
			case newCount == limit:
				b.truncateBytesTo(i + 1)
				return limit
			case newCount > limit:
				overshoot := newCount - limit
				remaining := byte(cnt - overshoot)
				b.setByteAt(i, (byt&specialBits)|remaining)
				b.truncateBytesTo(i + 1)
				return limit
			default:
				counter = newCount
			}
		} else {
			counter++
			if counter >= limit {
				b.truncateBytesTo(i + 1)
				return limit
			}
		}
	}
	return counter
}

// truncateBytesTo keeps only the first n bytes (front-to-back).
func (b *DeltaBuf) truncateBytesTo(n int) {
	b.data = b.data[:b.head+n]
}
