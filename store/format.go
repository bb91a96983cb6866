// Package store implements the single-file columnar container records are
// persisted in.
//
// A file holds named trees; a tree holds branches; every branch stores one
// encoded record per entry. Entries are grouped into compressed baskets so a
// reader touches only the baskets of the branches it enabled.
//
// File layout:
//
//	preamble  magic u32 | format version u32
//	baskets   compressed basket payloads, back to back
//	index     JSON document describing trees, branches and baskets
//	trailer   index offset u64 | index length u64 | index CRC u32 |
//	          format version u32 | magic u32
//
// A basket payload is an Arrow IPC stream holding one record batch whose
// schema is the branch's column list; row i of the batch is entry First+i.
package store

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/beamrec/beamrec/column"
)

const (
	magic         uint32 = 0x52444242 // "BBDR"
	formatVersion uint32 = 2

	preambleSize = 8
	trailerSize  = 28

	// DefaultBasketSize is the estimated batch size at which a branch basket
	// is flushed.
	DefaultBasketSize = 64 << 10
)

var (
	ErrNotStoreFile    = errors.New("not a store file")
	ErrCorrupt         = errors.New("corrupt store file")
	ErrClosed          = errors.New("store file closed")
	ErrNoTree          = errors.New("no such tree")
	ErrBranchNotFound  = errors.New("branch not found")
	ErrDuplicateBranch = errors.New("duplicate branch")
	ErrTreeStarted     = errors.New("tree already has entries")
	ErrKindMismatch    = errors.New("record kind does not match branch")
	ErrEntryOutOfRange = errors.New("entry out of range")
)

// Index is the JSON document at the end of a file.
type Index struct {
	FormatVersion uint32     `json:"formatVersion"`
	Created       time.Time  `json:"created"`
	Trees         []TreeInfo `json:"trees"`
}

// TreeInfo describes one tree.
type TreeInfo struct {
	Name     string       `json:"name"`
	Entries  int64        `json:"entries"`
	Branches []BranchInfo `json:"branches"`
}

// BranchInfo describes one branch: the record kind and version it was
// written with, its column layout and its baskets.
type BranchInfo struct {
	Name    string        `json:"name"`
	Kind    string        `json:"kind"`
	Version int           `json:"version"`
	Columns []column.Desc `json:"columns"`
	Baskets []BasketInfo  `json:"baskets"`
}

// BasketInfo locates one basket.
type BasketInfo struct {
	Offset  int64  `json:"offset"`
	Size    int    `json:"size"`
	RawSize int    `json:"rawSize"`
	First   int64  `json:"first"`
	N       int    `json:"n"`
	Codec   Codec  `json:"codec"`
	CRC     uint32 `json:"crc"`
}

// StoredSize returns the total bytes of the branch's baskets on disk.
func (b BranchInfo) StoredSize() int64 {
	var n int64
	for _, bk := range b.Baskets {
		n += int64(bk.Size)
	}
	return n
}

// RawSize returns the total uncompressed bytes of the branch's baskets.
func (b BranchInfo) RawSize() int64 {
	var n int64
	for _, bk := range b.Baskets {
		n += int64(bk.RawSize)
	}
	return n
}

type trailer struct {
	indexOffset uint64
	indexLen    uint64
	indexCRC    uint32
	version     uint32
	magic       uint32
}

func (t trailer) marshal() []byte {
	b := make([]byte, trailerSize)
	binary.LittleEndian.PutUint64(b[0:], t.indexOffset)
	binary.LittleEndian.PutUint64(b[8:], t.indexLen)
	binary.LittleEndian.PutUint32(b[16:], t.indexCRC)
	binary.LittleEndian.PutUint32(b[20:], t.version)
	binary.LittleEndian.PutUint32(b[24:], t.magic)
	return b
}

func unmarshalTrailer(b []byte) trailer {
	return trailer{
		indexOffset: binary.LittleEndian.Uint64(b[0:]),
		indexLen:    binary.LittleEndian.Uint64(b[8:]),
		indexCRC:    binary.LittleEndian.Uint32(b[16:]),
		version:     binary.LittleEndian.Uint32(b[20:]),
		magic:       binary.LittleEndian.Uint32(b[24:]),
	}
}

func preamble() []byte {
	b := make([]byte, preambleSize)
	binary.LittleEndian.PutUint32(b[0:], magic)
	binary.LittleEndian.PutUint32(b[4:], formatVersion)
	return b
}
