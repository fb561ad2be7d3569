package loader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
)

// HeaderSize is the size of the cartridge header.
const HeaderSize = 0x200

// ErrInvalidROM is returned for images whose header cannot be used.
var ErrInvalidROM = errors.New("invalid rom image")

// Binary describes where one CPU's program lives in the image and where it
// is loaded.
type Binary struct {
	ROMOffset uint32
	Entry     uint32
	RAMAddr   uint32
	Size      uint32
}

// Header is the part of the cartridge header direct boot needs.
type Header struct {
	Title    string
	GameCode string
	ARM9     Binary
	ARM7     Binary
}

// ROM is a cartridge image.
type ROM struct {
	Header Header
	Data   []byte
}

// Load limits of each binary.
const (
	maxARM9Size = 0x3BFE00
	maxARM7Size = 0x3BFE00
)

// ParseHeader decodes the header at the start of data.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrInvalidROM, len(data))
	}

	le := binary.LittleEndian
	bin := func(off int) Binary {
		return Binary{
			ROMOffset: le.Uint32(data[off:]),
			Entry:     le.Uint32(data[off+4:]),
			RAMAddr:   le.Uint32(data[off+8:]),
			Size:      le.Uint32(data[off+12:]),
		}
	}

	return Header{
		Title:    strings.TrimRight(string(data[0x00:0x0C]), "\x00 "),
		GameCode: strings.TrimRight(string(data[0x0C:0x10]), "\x00"),
		ARM9:     bin(0x20),
		ARM7:     bin(0x30),
	}, nil
}

// NewROM validates an image held in memory.
func NewROM(data []byte) (*ROM, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}

	r := &ROM{Header: h, Data: data}
	if err := r.check("arm9", h.ARM9, maxARM9Size); err != nil {
		return nil, err
	}
	if err := r.check("arm7", h.ARM7, maxARM7Size); err != nil {
		return nil, err
	}

	return r, nil
}

// LoadROM reads and validates an image file.
func LoadROM(path string) (*ROM, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rom: %w", err)
	}
	return NewROM(data)
}

func (r *ROM) check(name string, b Binary, limit uint32) error {
	if b.Size > limit {
		return fmt.Errorf("%w: %s binary of %#x bytes is too large", ErrInvalidROM, name, b.Size)
	}
	if uint64(b.ROMOffset)+uint64(b.Size) > uint64(len(r.Data)) {
		return fmt.Errorf("%w: %s binary at %#x runs past the end of the image", ErrInvalidROM, name, b.ROMOffset)
	}
	return nil
}

// ARM9Binary returns the ARM9 program bytes.
func (r *ROM) ARM9Binary() []byte {
	b := r.Header.ARM9
	return r.Data[b.ROMOffset : b.ROMOffset+b.Size]
}

// ARM7Binary returns the ARM7 program bytes.
func (r *ROM) ARM7Binary() []byte {
	b := r.Header.ARM7
	return r.Data[b.ROMOffset : b.ROMOffset+b.Size]
}

// HeaderBytes returns the raw header.
func (r *ROM) HeaderBytes() []byte {
	return r.Data[:HeaderSize]
}
