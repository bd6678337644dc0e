package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Binary record layout, version 1. Field offsets after the principal are
// fixed so the Redis Lua scripts can read and flip the revocation state
// without a full decode:
//
//	[0]                version
//	[1]                principal length p
//	[2 .. 2+p)         principal id
//	[2+p .. 2+p+8)     issuedAt, unix seconds, big endian
//	[2+p+8 .. 2+p+16)  expiresAt, unix seconds, big endian
//	[2+p+16]           revoked flag
//	[2+p+17 .. 2+p+25) revokedAt, unix seconds, big endian (0 = never)
const recordFormatVersionV1 = 1

func encodeRecord(rec Record) ([]byte, error) {
	if len(rec.PrincipalID) == 0 {
		return nil, errors.New("principal id required")
	}
	if len(rec.PrincipalID) > 255 {
		return nil, errors.New("principal id too long")
	}

	var buf bytes.Buffer
	buf.WriteByte(recordFormatVersionV1)
	buf.WriteByte(byte(len(rec.PrincipalID)))
	buf.WriteString(rec.PrincipalID)

	if err := binary.Write(&buf, binary.BigEndian, rec.IssuedAt.Unix()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.ExpiresAt.Unix()); err != nil {
		return nil, err
	}

	if rec.Revoked {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	var revokedAt int64
	if !rec.RevokedAt.IsZero() {
		revokedAt = rec.RevokedAt.Unix()
	}
	if err := binary.Write(&buf, binary.BigEndian, revokedAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return Record{}, fmt.Errorf("%w: empty blob", ErrCorruptRecord)
	}
	if version != recordFormatVersionV1 {
		return Record{}, fmt.Errorf("%w: unknown version %d", ErrCorruptRecord, version)
	}

	plen, err := reader.ReadByte()
	if err != nil {
		return Record{}, fmt.Errorf("%w: truncated principal length", ErrCorruptRecord)
	}
	principal := make([]byte, plen)
	if _, err := io.ReadFull(reader, principal); err != nil {
		return Record{}, fmt.Errorf("%w: truncated principal", ErrCorruptRecord)
	}

	var issuedAt, expiresAt int64
	if err := binary.Read(reader, binary.BigEndian, &issuedAt); err != nil {
		return Record{}, fmt.Errorf("%w: truncated issuedAt", ErrCorruptRecord)
	}
	if err := binary.Read(reader, binary.BigEndian, &expiresAt); err != nil {
		return Record{}, fmt.Errorf("%w: truncated expiresAt", ErrCorruptRecord)
	}

	revokedFlag, err := reader.ReadByte()
	if err != nil {
		return Record{}, fmt.Errorf("%w: truncated revoked flag", ErrCorruptRecord)
	}

	var revokedAt int64
	if err := binary.Read(reader, binary.BigEndian, &revokedAt); err != nil {
		return Record{}, fmt.Errorf("%w: truncated revokedAt", ErrCorruptRecord)
	}

	rec := Record{
		PrincipalID: string(principal),
		IssuedAt:    time.Unix(issuedAt, 0).UTC(),
		ExpiresAt:   time.Unix(expiresAt, 0).UTC(),
		Revoked:     revokedFlag == 1,
	}
	if revokedAt > 0 {
		rec.RevokedAt = time.Unix(revokedAt, 0).UTC()
	}
	return rec, nil
}
