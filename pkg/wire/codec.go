package wire

import (
	"encoding/binary"
	"hash/crc32"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// checksum computes the record checksum: CRC32C over buf, continuing
// from an initial register value of ^uint32(1) rather than the usual
// all-ones seed and with no final inversion, matching the reference
// wire format. crc32.Update inverts its argument on entry and its
// result on exit, hence the 1 and the outer ^.
func checksum(buf []byte) uint32 {
	return ^crc32.Update(1, castagnoli, buf)
}

func putName(buf []byte, off int, s string) {
	b := make([]byte, NameSize)
	copy(b, s)
	copy(buf[off:off+NameSize], b)
}

func getName(buf []byte, off int) string {
	raw := buf[off : off+NameSize]
	n := 0
	for n < len(raw) && raw[n] != 0 {
		n++
	}
	return string(raw[:n])
}

// --- LeaderRecord --------------------------------------------------

// LeaderRecordSize is the fixed encoded size of a LeaderRecord,
// including its trailing checksum.
const LeaderRecordSize = 208

// Encode serializes l into a LeaderRecordSize-byte buffer with a
// trailing CRC32C checksum.
func (l *LeaderRecord) Encode() []byte {
	buf := make([]byte, LeaderRecordSize)
	binary.LittleEndian.PutUint32(buf[0:], l.Magic)
	binary.LittleEndian.PutUint16(buf[4:], l.Version)
	binary.LittleEndian.PutUint16(buf[6:], l.Flags)
	binary.LittleEndian.PutUint32(buf[8:], l.SectorSize)
	binary.LittleEndian.PutUint32(buf[12:], l.NumHosts)
	binary.LittleEndian.PutUint32(buf[16:], l.MaxHosts)
	binary.LittleEndian.PutUint64(buf[20:], l.OwnerID)
	binary.LittleEndian.PutUint64(buf[28:], l.OwnerGeneration)
	binary.LittleEndian.PutUint64(buf[36:], l.LVer)
	binary.LittleEndian.PutUint64(buf[44:], l.Timestamp)
	putName(buf, 52, l.SpaceName)
	putName(buf, 116, l.ResourceName)
	binary.LittleEndian.PutUint64(buf[180:], l.WriteID)
	binary.LittleEndian.PutUint64(buf[188:], l.WriteGeneration)
	binary.LittleEndian.PutUint64(buf[196:], l.WriteTimestamp)
	sum := checksum(buf[:204])
	binary.LittleEndian.PutUint32(buf[204:], sum)
	return buf
}

// DecodeLeaderRecord verifies the checksum and deserializes buf.
func DecodeLeaderRecord(buf []byte) (*LeaderRecord, error) {
	if len(buf) < LeaderRecordSize {
		return nil, errShort("leader_record")
	}
	want := binary.LittleEndian.Uint32(buf[204:])
	got := checksum(buf[:204])
	if want != got {
		return nil, errChecksum("leader_record")
	}
	l := &LeaderRecord{
		Magic:           binary.LittleEndian.Uint32(buf[0:]),
		Version:         binary.LittleEndian.Uint16(buf[4:]),
		Flags:           binary.LittleEndian.Uint16(buf[6:]),
		SectorSize:      binary.LittleEndian.Uint32(buf[8:]),
		NumHosts:        binary.LittleEndian.Uint32(buf[12:]),
		MaxHosts:        binary.LittleEndian.Uint32(buf[16:]),
		OwnerID:         binary.LittleEndian.Uint64(buf[20:]),
		OwnerGeneration: binary.LittleEndian.Uint64(buf[28:]),
		LVer:            binary.LittleEndian.Uint64(buf[36:]),
		Timestamp:       binary.LittleEndian.Uint64(buf[44:]),
		SpaceName:       getName(buf, 52),
		ResourceName:    getName(buf, 116),
		WriteID:         binary.LittleEndian.Uint64(buf[180:]),
		WriteGeneration: binary.LittleEndian.Uint64(buf[188:]),
		WriteTimestamp:  binary.LittleEndian.Uint64(buf[196:]),
	}
	return l, nil
}

// --- HostSlot (delta lease) -----------------------------------------

// HostSlotSize is the fixed encoded size of a HostSlot.
const HostSlotSize = 180

// Encode serializes h with a trailing CRC32C checksum.
func (h *HostSlot) Encode() []byte {
	buf := make([]byte, HostSlotSize)
	binary.LittleEndian.PutUint32(buf[0:], h.Magic)
	binary.LittleEndian.PutUint16(buf[4:], h.Version)
	binary.LittleEndian.PutUint16(buf[6:], h.Flags)
	binary.LittleEndian.PutUint32(buf[8:], h.SectorSize)
	binary.LittleEndian.PutUint64(buf[12:], h.OwnerID)
	binary.LittleEndian.PutUint64(buf[20:], h.OwnerGeneration)
	binary.LittleEndian.PutUint64(buf[28:], h.LVer)
	binary.LittleEndian.PutUint64(buf[36:], h.Timestamp)
	putName(buf, 44, h.SpaceName)
	putName(buf, 108, h.ResourceName)
	binary.LittleEndian.PutUint32(buf[172:], h.IOTimeout)
	sum := checksum(buf[:176])
	binary.LittleEndian.PutUint32(buf[176:], sum)
	return buf
}

// DecodeHostSlot verifies the checksum and deserializes buf.
func DecodeHostSlot(buf []byte) (*HostSlot, error) {
	if len(buf) < HostSlotSize {
		return nil, errShort("host_slot")
	}
	want := binary.LittleEndian.Uint32(buf[176:])
	got := checksum(buf[:176])
	if want != got {
		return nil, errChecksum("host_slot")
	}
	h := &HostSlot{
		Magic:           binary.LittleEndian.Uint32(buf[0:]),
		Version:         binary.LittleEndian.Uint16(buf[4:]),
		Flags:           binary.LittleEndian.Uint16(buf[6:]),
		SectorSize:      binary.LittleEndian.Uint32(buf[8:]),
		OwnerID:         binary.LittleEndian.Uint64(buf[12:]),
		OwnerGeneration: binary.LittleEndian.Uint64(buf[20:]),
		LVer:            binary.LittleEndian.Uint64(buf[28:]),
		Timestamp:       binary.LittleEndian.Uint64(buf[36:]),
		SpaceName:       getName(buf, 44),
		ResourceName:    getName(buf, 108),
		IOTimeout:       binary.LittleEndian.Uint32(buf[172:]),
	}
	return h, nil
}

// --- DBlock ----------------------------------------------------------

// DBlockSize is the fixed encoded size of a DBlock.
const DBlockSize = 56

// Encode serializes d with a trailing CRC32C checksum.
func (d *DBlock) Encode() []byte {
	buf := make([]byte, DBlockSize)
	binary.LittleEndian.PutUint64(buf[0:], d.Mbal)
	binary.LittleEndian.PutUint64(buf[8:], d.Bal)
	binary.LittleEndian.PutUint64(buf[16:], d.Inp)
	binary.LittleEndian.PutUint64(buf[24:], d.Inp2)
	binary.LittleEndian.PutUint64(buf[32:], d.Inp3)
	binary.LittleEndian.PutUint64(buf[40:], d.LVer)
	binary.LittleEndian.PutUint32(buf[48:], d.Flags)
	sum := checksum(buf[:52])
	binary.LittleEndian.PutUint32(buf[52:], sum)
	return buf
}

// DecodeDBlock verifies the checksum and deserializes buf.
func DecodeDBlock(buf []byte) (*DBlock, error) {
	if len(buf) < DBlockSize {
		return nil, errShort("dblock")
	}
	want := binary.LittleEndian.Uint32(buf[52:])
	got := checksum(buf[:52])
	if want != got {
		return nil, errChecksum("dblock")
	}
	d := &DBlock{
		Mbal:  binary.LittleEndian.Uint64(buf[0:]),
		Bal:   binary.LittleEndian.Uint64(buf[8:]),
		Inp:   binary.LittleEndian.Uint64(buf[16:]),
		Inp2:  binary.LittleEndian.Uint64(buf[24:]),
		Inp3:  binary.LittleEndian.Uint64(buf[32:]),
		LVer:  binary.LittleEndian.Uint64(buf[40:]),
		Flags: binary.LittleEndian.Uint32(buf[48:]),
	}
	return d, nil
}

// --- ModeBlock ---------------------------------------------------------

// ModeBlockSize is the fixed encoded size of a ModeBlock.
const ModeBlockSize = 16

// Encode serializes m with a trailing CRC32C checksum.
func (m *ModeBlock) Encode() []byte {
	buf := make([]byte, ModeBlockSize)
	binary.LittleEndian.PutUint32(buf[0:], m.Flags)
	binary.LittleEndian.PutUint64(buf[4:], m.Generation)
	sum := checksum(buf[:12])
	binary.LittleEndian.PutUint32(buf[12:], sum)
	return buf
}

// DecodeModeBlock verifies the checksum and deserializes buf.
func DecodeModeBlock(buf []byte) (*ModeBlock, error) {
	if len(buf) < ModeBlockSize {
		return nil, errShort("mode_block")
	}
	want := binary.LittleEndian.Uint32(buf[12:])
	got := checksum(buf[:12])
	if want != got {
		return nil, errChecksum("mode_block")
	}
	m := &ModeBlock{
		Flags:      binary.LittleEndian.Uint32(buf[0:]),
		Generation: binary.LittleEndian.Uint64(buf[4:]),
	}
	return m, nil
}

// --- RequestRecord -----------------------------------------------------

// RequestRecordSize is the fixed encoded size of a RequestRecord.
const RequestRecordSize = 20

// Encode serializes r with a trailing CRC32C checksum.
func (r *RequestRecord) Encode() []byte {
	buf := make([]byte, RequestRecordSize)
	binary.LittleEndian.PutUint32(buf[0:], r.Magic)
	binary.LittleEndian.PutUint16(buf[4:], r.Version)
	binary.LittleEndian.PutUint16(buf[6:], r.Flags)
	binary.LittleEndian.PutUint64(buf[8:], r.LVer)
	sum := checksum(buf[:16])
	binary.LittleEndian.PutUint32(buf[16:], sum)
	return buf
}

// DecodeRequestRecord verifies the checksum and deserializes buf.
func DecodeRequestRecord(buf []byte) (*RequestRecord, error) {
	if len(buf) < RequestRecordSize {
		return nil, errShort("request_record")
	}
	want := binary.LittleEndian.Uint32(buf[16:])
	got := checksum(buf[:16])
	if want != got {
		return nil, errChecksum("request_record")
	}
	r := &RequestRecord{
		Magic:   binary.LittleEndian.Uint32(buf[0:]),
		Version: binary.LittleEndian.Uint16(buf[4:]),
		Flags:   binary.LittleEndian.Uint16(buf[6:]),
		LVer:    binary.LittleEndian.Uint64(buf[8:]),
	}
	return r, nil
}
