package identity

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	recordFormatVersion = 1

	flagActive    = 1 << 0
	flagSuperuser = 1 << 1
)

// Encode serializes r for the shared tier. The password hash is never
// written.
//
// Layout (big endian):
//
//	version u8 | flags u8 | len u8 id | len u16 email | len u16 name |
//	len u8 role | version u32 | updated_at i64 (µs) | joined_at i64 (µs)
func Encode(r Record) ([]byte, error) {
	if len(r.ID) > 255 {
		return nil, errors.New("id too long")
	}
	if len(r.Role) > 255 {
		return nil, errors.New("role too long")
	}
	if len(r.Email) > 65535 {
		return nil, errors.New("email too long")
	}
	if len(r.Name) > 65535 {
		return nil, errors.New("name too long")
	}

	buf := make([]byte, 0, 2+1+len(r.ID)+2+len(r.Email)+2+len(r.Name)+1+len(r.Role)+4+8+8)

	buf = append(buf, recordFormatVersion)

	var flags byte
	if r.Active {
		flags |= flagActive
	}
	if r.Superuser {
		flags |= flagSuperuser
	}
	buf = append(buf, flags)

	buf = append(buf, byte(len(r.ID)))
	buf = append(buf, r.ID...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(r.Email)))
	buf = append(buf, r.Email...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(r.Name)))
	buf = append(buf, r.Name...)
	buf = append(buf, byte(len(r.Role)))
	buf = append(buf, r.Role...)

	buf = binary.BigEndian.AppendUint32(buf, r.Version)
	buf = binary.BigEndian.AppendUint64(buf, uint64(unixMicro(r.UpdatedAt)))
	buf = binary.BigEndian.AppendUint64(buf, uint64(unixMicro(r.JoinedAt)))

	return buf, nil
}

// Decode parses a payload produced by Encode.
func Decode(data []byte) (Record, error) {
	d := decoder{data: data}

	version := d.u8()
	if d.err == nil && version != recordFormatVersion {
		return Record{}, fmt.Errorf("%w: unknown version %d", ErrCorruptEntry, version)
	}

	flags := d.u8()
	r := Record{
		Active:    flags&flagActive != 0,
		Superuser: flags&flagSuperuser != 0,
	}
	r.ID = d.str(int(d.u8()))
	r.Email = d.str(int(d.u16()))
	r.Name = d.str(int(d.u16()))
	r.Role = d.str(int(d.u8()))
	r.Version = d.u32()
	r.UpdatedAt = fromUnixMicro(int64(d.u64()))
	r.JoinedAt = fromUnixMicro(int64(d.u64()))

	if d.err != nil {
		return Record{}, d.err
	}
	if d.off != len(data) {
		return Record{}, fmt.Errorf("%w: %d trailing bytes", ErrCorruptEntry, len(data)-d.off)
	}
	if r.ID == "" {
		return Record{}, fmt.Errorf("%w: empty id", ErrCorruptEntry)
	}

	return r, nil
}

type decoder struct {
	data []byte
	off  int
	err  error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.off+n > len(d.data) {
		d.err = fmt.Errorf("%w: truncated payload", ErrCorruptEntry)
		return nil
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8() byte {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (d *decoder) str(n int) string {
	return string(d.take(n))
}

func unixMicro(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromUnixMicro(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}
