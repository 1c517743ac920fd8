package merkle

import (
	"encoding/binary"
	"math"
)

// PathResult is the window a validated proof resolves to.
type PathResult struct {
	Offset     int64
	LeftBound  int64
	RightBound int64
	ChunkSize  int64
}

// ValidatePath checks that path proves byte dest lies inside a chunk
// committed to by id, with the data spanning [leftBound, rightBound).
// Proofs come from the network, so any malformed or mismatching input
// yields ok == false rather than an error.
func (m *Merkle) ValidatePath(id []byte, dest, leftBound, rightBound int64, path []byte) (res PathResult, ok bool) {
	for {
		if rightBound <= 0 {
			return
		}
		// XXX out of range destinations are clamped and retried the way
		// the network's own validator does it; this is lenient and
		// probably unnecessary, but peers depend on matching results
		if dest >= rightBound {
			dest, leftBound = 0, rightBound-1
			continue
		}
		if dest < 0 {
			dest, leftBound = 0, 0
			continue
		}

		if len(path) == HashSize+NoteSize {
			sum, err := m.hashEach(path[:HashSize], path[HashSize:])
			if err != nil || !equal(id, sum) {
				return
			}
			res = PathResult{
				Offset:     rightBound - 1,
				LeftBound:  leftBound,
				RightBound: rightBound,
				ChunkSize:  rightBound - leftBound,
			}
			return res, true
		}

		if len(path) < 2*HashSize+NoteSize {
			return
		}
		left := path[:HashSize]
		right := path[HashSize : 2*HashSize]
		note := path[2*HashSize : 2*HashSize+NoteSize]
		path = path[2*HashSize+NoteSize:]

		sum, err := m.hashEach(left, right, note)
		if err != nil || !equal(id, sum) {
			return
		}
		offset := BufferToInt(note)
		if dest < offset {
			id = left
			rightBound = min(rightBound, offset)
		} else {
			id = right
			leftBound = max(leftBound, offset)
		}
	}
}

// IntToBuffer encodes note as a NoteSize-byte big-endian integer.
func IntToBuffer(note int64) []byte {
	buf := make([]byte, NoteSize)
	binary.BigEndian.PutUint64(buf[NoteSize-8:], uint64(note))
	return buf
}

// BufferToInt decodes a big-endian integer of any width.  Values past
// math.MaxInt64 saturate.
func BufferToInt(buf []byte) int64 {
	var value uint64
	for _, b := range buf {
		if value > (math.MaxInt64-uint64(b))/256 {
			return math.MaxInt64
		}
		value = value*256 + uint64(b)
	}
	return int64(value)
}
