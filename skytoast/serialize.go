/*
	This file supports serialization/deserialization and compression of
	tile arrays, used for the float64 tile format on disk.
*/

package skytoast

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/golang/snappy"
)

// Compression is the format of compression for storing data.
// NOTE: Should be no more than 8 (3 bits) of compression types.
type Compression uint8

const (
	Uncompressed Compression = 0
	Snappy                   = 1 << iota
)

func (compress Compression) String() string {
	switch compress {
	case Uncompressed:
		return "No compression"
	case Snappy:
		return "Go Snappy compression"
	default:
		return "Unknown compression"
	}
}

// Checksum is the type of checksum employed for error checking stored data.
// NOTE: Should be no more than 4 (2 bits) of checksum types.
type Checksum uint8

const (
	NoChecksum Checksum = 0
	CRC32               = 1 << iota
)

func (checksum Checksum) String() string {
	switch checksum {
	case NoChecksum:
		return "No checksum"
	case CRC32:
		return "CRC32 checksum"
	default:
		return "Unknown checksum"
	}
}

// SerializationFormat is a single byte combining both compression and checksum methods.
type SerializationFormat uint8

func EncodeSerializationFormat(compress Compression, checksum Checksum) SerializationFormat {
	a := (uint8(compress) & 0x07) << 5
	b := (uint8(checksum) & 0x03) << 3
	return SerializationFormat(a | b)
}

func DecodeSerializationFormat(s SerializationFormat) (compress Compression, checksum Checksum) {
	compress = Compression(uint8(s) >> 5)
	checksum = Checksum((uint8(s) >> 3) & 0x03)
	return
}

// SerializeData serializes a slice of bytes using optional compression, checksum.
func SerializeData(data []byte, compress Compression, checksum Checksum) (s []byte, err error) {
	var buffer bytes.Buffer

	// Store the requested compression and checksum
	format := EncodeSerializationFormat(compress, checksum)
	err = binary.Write(&buffer, binary.LittleEndian, format)
	if err != nil {
		return
	}

	// Handle compression if requested
	var byteData []byte
	switch compress {
	case Uncompressed:
		byteData = data
	case Snappy:
		byteData = snappy.Encode(nil, data)
	default:
		err = fmt.Errorf("Illegal compression (%s) during serialization", compress)
	}
	if err != nil {
		return
	}

	// Handle checksum if requested
	switch checksum {
	case NoChecksum:
	case CRC32:
		crcChecksum := crc32.ChecksumIEEE(byteData)
		err = binary.Write(&buffer, binary.LittleEndian, crcChecksum)
	default:
		err = fmt.Errorf("Illegal checksum (%s) in SerializeData()", checksum)
	}
	if err == nil {
		// Note the actual data is written last, after any checksum so we don't have to
		// worry about length when deserializing.
		_, err = buffer.Write(byteData)
		if err == nil {
			s = buffer.Bytes()
		}
	}
	return
}

// DeserializeData deserializes a slice of bytes using stored compression, checksum.
// If uncompress parameter is false, the data is not uncompressed.
func DeserializeData(s []byte, uncompress bool) (data []byte, compress Compression, err error) {
	buffer := bytes.NewBuffer(s)

	// Get the stored compression and checksum
	var format SerializationFormat
	err = binary.Read(buffer, binary.LittleEndian, &format)
	if err != nil {
		return
	}
	var checksum Checksum
	compress, checksum = DecodeSerializationFormat(format)

	// Get any checksum.
	var storedCrc32 uint32
	switch checksum {
	case NoChecksum:
	case CRC32:
		err = binary.Read(buffer, binary.LittleEndian, &storedCrc32)
	default:
		err = fmt.Errorf("Illegal checksum in deserializing data")
	}
	if err != nil {
		return
	}

	// Get the possibly compressed data.
	cdata := buffer.Bytes()

	// Perform any requested checksum
	switch checksum {
	case CRC32:
		crcChecksum := crc32.ChecksumIEEE(cdata)
		if crcChecksum != storedCrc32 {
			err = fmt.Errorf("Bad checksum.  Stored %x got %x", storedCrc32, crcChecksum)
			return
		}
	}

	// Uncompress if needed
	if uncompress {
		switch compress {
		case Uncompressed:
			data = cdata
		case Snappy:
			data, err = snappy.Decode(nil, cdata)
		default:
			err = fmt.Errorf("Illegal compression format (%d) in deserialization", compress)
		}
	}
	return
}

// MarshalBinary encodes an Array as a compact binary blob: a fixed header
// (dtype, channels, width, height) followed by the raw element data in
// little endian order.
func (a *Array) MarshalBinary() ([]byte, error) {
	if err := a.CheckShape(); err != nil {
		return nil, err
	}
	var buffer bytes.Buffer
	buffer.WriteByte(byte(a.DType))
	buffer.WriteByte(byte(a.Channels))
	if err := binary.Write(&buffer, binary.LittleEndian, uint32(a.Width)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buffer, binary.LittleEndian, uint32(a.Height)); err != nil {
		return nil, err
	}
	switch a.DType {
	case Uint8:
		buffer.Write(a.U8)
	case Float64:
		if err := binary.Write(&buffer, binary.LittleEndian, a.F64); err != nil {
			return nil, err
		}
	}
	return buffer.Bytes(), nil
}

// UnmarshalBinary decodes an Array from the format written by MarshalBinary.
func (a *Array) UnmarshalBinary(b []byte) error {
	if len(b) < 10 {
		return fmt.Errorf("array blob too short: %d bytes", len(b))
	}
	a.DType = DType(b[0])
	a.Channels = int(b[1])
	a.Width = int(binary.LittleEndian.Uint32(b[2:6]))
	a.Height = int(binary.LittleEndian.Uint32(b[6:10]))
	n := a.Width * a.Height * a.Channels
	body := b[10:]
	switch a.DType {
	case Uint8:
		if len(body) != n {
			return fmt.Errorf("uint8 array blob has %d data bytes, expected %d", len(body), n)
		}
		a.U8 = make([]uint8, n)
		copy(a.U8, body)
	case Float64:
		if len(body) != n*8 {
			return fmt.Errorf("float64 array blob has %d data bytes, expected %d", len(body), n*8)
		}
		a.F64 = make([]float64, n)
		if err := binary.Read(bytes.NewReader(body), binary.LittleEndian, a.F64); err != nil {
			return err
		}
	default:
		return fmt.Errorf("array blob has %s", a.DType)
	}
	return a.CheckShape()
}

// Serialize writes optionally compressed and checksummed bytes representing
// the array.
func (a *Array) Serialize(compress Compression, checksum Checksum) ([]byte, error) {
	b, err := a.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return SerializeData(b, compress, checksum)
}

// DeserializeArray decodes an Array from a possibly compressed, checksummed
// byte slice produced by Serialize.
func DeserializeArray(s []byte) (*Array, error) {
	data, _, err := DeserializeData(s, true)
	if err != nil {
		return nil, err
	}
	a := new(Array)
	if err := a.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return a, nil
}
