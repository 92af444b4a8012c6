// Package ring implements the single-producer/single-consumer shared-memory
// audio ring that connects the SIP endpoint to the inbound and outbound
// audio processors (§3, §6 of the fabric spec).
//
// Layout (packed, little-endian), matching the fixed header:
//
//	u32 magic, u32 version, u32 call_id, u32 write_index, u32 read_index,
//	u32 connected_flags, u64 producer_heartbeat_ns, u64 consumer_heartbeat_ns,
//	u32 slot_size, u32 slot_count, [64]byte reserved
//
// followed by slot_count slots of slot_size bytes, each slot prefixed with a
// 4-byte little-endian payload length.
package ring

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

const (
	Magic      uint32 = 0x41504348 // 'APCH'
	Version    uint32 = 1
	headerSize        = 4*6 + 8*2 + 4*2 + 64 // = 112 bytes
	lenPrefix         = 4

	flagProducerConnected uint32 = 1 << 0
	flagConsumerConnected uint32 = 1 << 1

	// StaleAfter is the heartbeat staleness window (§3 invariant 5).
	StaleAfter = 5 * time.Second

	// DefaultSlotSize and DefaultSlotCount give ~10s of buffering at 20ms/frame.
	DefaultSlotSize  = 2048
	DefaultSlotCount = 512
)

var (
	ErrMagicMismatch = errors.New("ring: magic/version mismatch on open")
	ErrFull          = errors.New("ring: full")
	ErrEmpty         = errors.New("ring: empty")
	ErrPayloadTooBig = errors.New("ring: payload exceeds slot capacity")
)

// Role distinguishes which side of the ring a Ring handle is bound to; it
// only governs which heartbeat/flag field a handle updates, since the ring
// itself has no notion of direction beyond slot indices.
type Role int

const (
	Producer Role = iota
	Consumer
)

// Ring is a handle onto one mmap'd segment, bound to a single role. Per the
// single-writer-per-field invariant (§5), a Producer handle must never read
// read_index's owner fields and vice versa; Go's type system doesn't enforce
// that, so callers are expected to hold exactly one Producer and one
// Consumer handle per ring, never two of the same role.
type Ring struct {
	path      string
	data      []byte
	slotSize  uint32
	slotCount uint32
	role      Role
	owned     bool
}

func segmentPath(name string) string {
	return "/dev/shm/" + name
}

// Name returns the conventional segment name for call C, e.g. "ap_in_42".
func Name(prefix string, callID int) string {
	return fmt.Sprintf("%s_%d", prefix, callID)
}

// Create creates (or truncates) the named segment with the given geometry
// and returns a Producer-role handle. The caller that creates the ring is,
// by convention, its producer (SE for the inbound ring, OAP for the
// outbound ring).
func Create(name string, callID int, slotSize, slotCount uint32) (*Ring, error) {
	path := segmentPath(name)
	size := int64(headerSize) + int64(slotCount)*int64(lenPrefix+slotSize)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return nil, fmt.Errorf("ring: create %s: %w", path, err)
	}
	defer f.Close()

	if err := f.Truncate(size); err != nil {
		return nil, fmt.Errorf("ring: truncate %s: %w", path, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("ring: mmap %s: %w", path, err)
	}

	r := &Ring{path: path, data: data, slotSize: slotSize, slotCount: slotCount, role: Producer, owned: true}
	binary.LittleEndian.PutUint32(data[0:4], Magic)
	binary.LittleEndian.PutUint32(data[4:8], Version)
	binary.LittleEndian.PutUint32(data[8:12], uint32(callID))
	binary.LittleEndian.PutUint32(data[12:16], 0) // write_index
	binary.LittleEndian.PutUint32(data[16:20], 0) // read_index
	binary.LittleEndian.PutUint32(data[20:24], 0) // connected_flags
	binary.LittleEndian.PutUint32(data[40:44], slotSize)
	binary.LittleEndian.PutUint32(data[44:48], slotCount)

	r.setConnected(Producer, true)
	r.touchHeartbeat(Producer)
	return r, nil
}

// Open opens an existing segment created by Create, verifying magic and
// geometry (§6: "mismatch is fatal for that open"), and returns a handle
// bound to the given role.
func Open(name string, role Role) (*Ring, error) {
	path := segmentPath(name)
	f, err := os.OpenFile(path, os.O_RDWR, 0o666)
	if err != nil {
		return nil, fmt.Errorf("ring: open %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("ring: mmap %s: %w", path, err)
	}

	if binary.LittleEndian.Uint32(data[0:4]) != Magic || binary.LittleEndian.Uint32(data[4:8]) != Version {
		unix.Munmap(data)
		return nil, ErrMagicMismatch
	}

	slotSize := binary.LittleEndian.Uint32(data[40:44])
	slotCount := binary.LittleEndian.Uint32(data[44:48])
	expect := int64(headerSize) + int64(slotCount)*int64(lenPrefix+slotSize)
	if expect != fi.Size() {
		unix.Munmap(data)
		return nil, ErrMagicMismatch
	}

	r := &Ring{path: path, data: data, slotSize: slotSize, slotCount: slotCount, role: role}
	r.setConnected(role, true)
	r.touchHeartbeat(role)
	return r, nil
}

func (r *Ring) writeIndex() uint32 { return atomic.LoadUint32(r.u32(12)) }
func (r *Ring) readIndex() uint32  { return atomic.LoadUint32(r.u32(16)) }

func (r *Ring) setWriteIndex(v uint32) { atomic.StoreUint32(r.u32(12), v) }
func (r *Ring) setReadIndex(v uint32)  { atomic.StoreUint32(r.u32(16), v) }

func (r *Ring) u32(offset int) *uint32 {
	return (*uint32)(ptrAt(r.data, offset))
}

func (r *Ring) u64(offset int) *uint64 {
	return (*uint64)(ptrAt(r.data, offset))
}

func (r *Ring) setConnected(role Role, on bool) {
	bit := flagProducerConnected
	if role == Consumer {
		bit = flagConsumerConnected
	}
	for {
		cur := atomic.LoadUint32(r.u32(20))
		var next uint32
		if on {
			next = cur | bit
		} else {
			next = cur &^ bit
		}
		if atomic.CompareAndSwapUint32(r.u32(20), cur, next) {
			return
		}
	}
}

// PeerConnected reports whether the opposite role is currently marked
// connected on this ring (Open sets the mark, Close clears it).
func (r *Ring) PeerConnected() bool {
	bit := flagConsumerConnected
	if r.role == Consumer {
		bit = flagProducerConnected
	}
	return atomic.LoadUint32(r.u32(20))&bit != 0
}

func (r *Ring) touchHeartbeat(role Role) {
	offset := 24
	if role == Consumer {
		offset = 32
	}
	atomic.StoreUint64(r.u64(offset), uint64(time.Now().UnixNano()))
}

// Touch updates this handle's own heartbeat; callers should call it on
// every successful ring operation (§3 invariant 5).
func (r *Ring) Touch() { r.touchHeartbeat(r.role) }

// PeerStale reports whether the opposite role's heartbeat is older than
// StaleAfter.
func (r *Ring) PeerStale() bool {
	offset := 32
	if r.role == Consumer {
		offset = 24
	}
	last := atomic.LoadUint64(r.u64(offset))
	if last == 0 {
		return false
	}
	age := time.Since(time.Unix(0, int64(last)))
	return age > StaleAfter
}

// SlotSize and SlotCount expose the ring's fixed geometry.
func (r *Ring) SlotSize() uint32  { return r.slotSize }
func (r *Ring) SlotCount() uint32 { return r.slotCount }

// Empty and Full implement the invariants of §3/§8: read_index == write_index
// iff empty; (write_index+1) mod slot_count == read_index iff full.
func (r *Ring) Empty() bool {
	return r.readIndex() == r.writeIndex()
}

func (r *Ring) Full() bool {
	return (r.writeIndex()+1)%r.slotCount == r.readIndex()
}

func (r *Ring) slotOffset(idx uint32) int {
	return headerSize + int(idx)*(lenPrefix+int(r.slotSize))
}

// WriteFrame claims the next slot and stores payload, or returns ErrFull
// without blocking if the ring is full (non-blocking drop policy, §4.1).
func (r *Ring) WriteFrame(payload []byte) error {
	if len(payload) > int(r.slotSize)-lenPrefix {
		return ErrPayloadTooBig
	}
	if r.Full() {
		return ErrFull
	}

	idx := r.writeIndex()
	off := r.slotOffset(idx)
	binary.LittleEndian.PutUint32(r.data[off:off+4], uint32(len(payload)))
	copy(r.data[off+4:off+4+len(payload)], payload)

	r.setWriteIndex((idx + 1) % r.slotCount)
	r.Touch()
	return nil
}

// ReadFrame returns the next unread frame, or ErrEmpty without blocking if
// the ring is empty.
func (r *Ring) ReadFrame() ([]byte, error) {
	if r.Empty() {
		return nil, ErrEmpty
	}

	idx := r.readIndex()
	off := r.slotOffset(idx)
	n := binary.LittleEndian.Uint32(r.data[off : off+4])
	out := make([]byte, n)
	copy(out, r.data[off+4:off+4+int(n)])

	r.setReadIndex((idx + 1) % r.slotCount)
	r.Touch()
	return out, nil
}

// Close marks this role disconnected and munmaps the segment. It does not
// remove the underlying /dev/shm file; the creator is responsible for
// Unlink once both peers have disconnected.
func (r *Ring) Close() error {
	r.setConnected(r.role, false)
	return unix.Munmap(r.data)
}

// Unlink removes the backing segment from /dev/shm.
func Unlink(name string) error {
	return os.Remove(segmentPath(name))
}
