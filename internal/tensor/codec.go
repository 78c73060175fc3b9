package tensor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zstd"
)

const (
	checkpointMagic   = "DZCK"
	checkpointVersion = uint32(1)
	maxNameLen        = 1<<16 - 1
	maxRank           = 8
)

// Named pairs a tensor with its parameter name.
type Named struct {
	Name   string
	Tensor *Tensor
}

// WriteCheckpoint writes tensors as a zstd-compressed checkpoint.
//
// Layout of the decompressed payload (little endian):
//
//	magic "DZCK" | version u32 | count u32
//	per tensor: nameLen u16 | name | rank u8 | dims u32... | values f64...
//	sha256 of everything above
func WriteCheckpoint(w io.Writer, entries []Named) error {
	var payload bytes.Buffer
	payload.WriteString(checkpointMagic)
	writeU32(&payload, checkpointVersion)
	writeU32(&payload, uint32(len(entries))) //nolint:gosec // G115: parameter count fits in u32.

	for _, e := range entries {
		if len(e.Name) > maxNameLen {
			return fmt.Errorf("tensor name too long: %d bytes", len(e.Name))
		}
		if len(e.Tensor.shape) > maxRank {
			return fmt.Errorf("tensor %q: rank %d exceeds %d", e.Name, len(e.Tensor.shape), maxRank)
		}
		var u16 [2]byte
		binary.LittleEndian.PutUint16(u16[:], uint16(len(e.Name))) //nolint:gosec // G115: checked above.
		payload.Write(u16[:])
		payload.WriteString(e.Name)
		payload.WriteByte(byte(len(e.Tensor.shape)))
		for _, d := range e.Tensor.shape {
			writeU32(&payload, uint32(d)) //nolint:gosec // G115: dims are positive and small.
		}
		var u64 [8]byte
		for _, v := range e.Tensor.data {
			binary.LittleEndian.PutUint64(u64[:], math.Float64bits(v))
			payload.Write(u64[:])
		}
	}

	sum := sha256Sum(payload.Bytes())
	payload.Write(sum[:])

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	if _, err := enc.Write(payload.Bytes()); err != nil {
		_ = enc.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to flush checkpoint: %w", err)
	}
	return nil
}

// ReadCheckpoint reads a checkpoint written by WriteCheckpoint.
func ReadCheckpoint(r io.Reader) ([]Named, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress checkpoint: %w", err)
	}
	if len(raw) < len(checkpointMagic)+8+32 {
		return nil, io.ErrUnexpectedEOF
	}

	body, stored := raw[:len(raw)-32], raw[len(raw)-32:]
	var storedSum [32]byte
	copy(storedSum[:], stored)
	if err := ValidateChecksum(sha256Sum(body), storedSum); err != nil {
		return nil, err
	}

	rd := bytes.NewReader(body)
	magic := make([]byte, len(checkpointMagic))
	if _, err := io.ReadFull(rd, magic); err != nil {
		return nil, err
	}
	if string(magic) != checkpointMagic {
		return nil, ErrInvalidMagic
	}
	var version, count uint32
	if err := binary.Read(rd, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != checkpointVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	if err := binary.Read(rd, binary.LittleEndian, &count); err != nil {
		return nil, err
	}

	entries := make([]Named, 0, count)
	for i := uint32(0); i < count; i++ {
		var nameLen uint16
		if err := binary.Read(rd, binary.LittleEndian, &nameLen); err != nil {
			return nil, err
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(rd, name); err != nil {
			return nil, err
		}
		rank, err := rd.ReadByte()
		if err != nil {
			return nil, err
		}
		if rank > maxRank {
			return nil, fmt.Errorf("tensor %q: rank %d exceeds %d", name, rank, maxRank)
		}
		shape := make(Shape, rank)
		for d := range shape {
			var dim uint32
			if err := binary.Read(rd, binary.LittleEndian, &dim); err != nil {
				return nil, err
			}
			shape[d] = int(dim)
		}
		if err := shape.Validate(); err != nil {
			return nil, fmt.Errorf("tensor %q: %w", name, err)
		}
		t := Zeros(shape)
		if err := binary.Read(rd, binary.LittleEndian, t.data); err != nil {
			return nil, fmt.Errorf("tensor %q: %w", name, err)
		}
		entries = append(entries, Named{Name: string(name), Tensor: t})
	}
	return entries, nil
}

func writeU32(b *bytes.Buffer, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	b.Write(buf[:])
}
