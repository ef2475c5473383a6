package livepatch

import (
	"encoding/binary"
	"log/slog"
	"sync"
)

// Fixed 64-bit metadata layout, measured from the type's address point.
const (
	PointerSize = 8

	offMetaClass            = 0
	offSuperClass           = 8
	offCacheData1           = 16
	offCacheData2           = 24
	offData                 = 32
	offFlags                = 40
	offInstanceAddressPoint = 44
	offInstanceSize         = 48
	offInstanceAlignMask    = 52
	offReserved             = 54
	offClassSize            = 56
	offClassAddressPoint    = 60
	offDescription          = 64
	offIVarDestroyer        = 72

	// StaticTableOffset is the distance from the address point to the first
	// static dispatch table field. Nothing before it is ever overwritten.
	StaticTableOffset = offIVarDestroyer

	// DefaultClassAddressPoint is the prefix size that precedes the address point.
	DefaultClassAddressPoint = 16

	dataHasStaticTable = 0x1
)

// MetadataLayout is the decoded fixed header of a Metadata buffer.
type MetadataLayout struct {
	MetaClass            uint64
	SuperClass           uint64
	CacheData1           uint64
	CacheData2           uint64
	Data                 uint64
	Flags                uint32
	InstanceAddressPoint uint32
	InstanceSize         uint32
	InstanceAlignMask    uint16
	Reserved             uint16
	ClassSize            uint32
	ClassAddressPoint    uint32
	Description          uint64
	IVarDestroyer        uint64
}

// HasStaticTable reports whether the type carries a fixed-offset dispatch table.
func (l MetadataLayout) HasStaticTable() bool {
	return l.Data&dataHasStaticTable != 0
}

// StaticTableLength is (ClassSize - ClassAddressPoint) - StaticTableOffset.
// It may be negative for malformed layouts.
func (l MetadataLayout) StaticTableLength() int {
	return int(l.ClassSize) - int(l.ClassAddressPoint) - StaticTableOffset
}

// Metadata is a read/write view of a type's fixed binary layout.
type Metadata struct {
	mu  sync.RWMutex
	buf []byte
}

// NewMetadata wraps buf without copying it.
func NewMetadata(buf []byte) *Metadata {
	return &Metadata{buf: buf}
}

// Size is the number of bytes in the view.
func (m *Metadata) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.buf)
}

// Bytes returns a copy of the view.
func (m *Metadata) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.buf...)
}

func (m *Metadata) Layout() MetadataLayout {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MetadataLayout{
		MetaClass:            m.u64(offMetaClass),
		SuperClass:           m.u64(offSuperClass),
		CacheData1:           m.u64(offCacheData1),
		CacheData2:           m.u64(offCacheData2),
		Data:                 m.u64(offData),
		Flags:                m.u32(offFlags),
		InstanceAddressPoint: m.u32(offInstanceAddressPoint),
		InstanceSize:         m.u32(offInstanceSize),
		InstanceAlignMask:    m.u16(offInstanceAlignMask),
		Reserved:             m.u16(offReserved),
		ClassSize:            m.u32(offClassSize),
		ClassAddressPoint:    m.u32(offClassAddressPoint),
		Description:          m.u64(offDescription),
		IVarDestroyer:        m.u64(offIVarDestroyer),
	}
}

// SlotCount is the number of method slots after the ivar destroyer.
func (m *Metadata) SlotCount() int {
	n := m.Layout().StaticTableLength()/PointerSize - 1
	if n < 0 {
		return 0
	}
	return n
}

// Slot reads the IMP stored in static dispatch slot i.
func (m *Metadata) Slot(i int) (IMP, bool) {
	off := slotOffset(i)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i < 0 || off+PointerSize > len(m.buf) {
		return 0, false
	}
	return IMP(binary.LittleEndian.Uint64(m.buf[off:])), true
}

func slotOffset(i int) int {
	return StaticTableOffset + PointerSize*(i+1)
}

// u64, u32 and u16 read a field, yielding zero past the end of the buffer.
// Callers hold mu.
func (m *Metadata) u64(off int) uint64 {
	if off+8 > len(m.buf) {
		return 0
	}
	return binary.LittleEndian.Uint64(m.buf[off:])
}

func (m *Metadata) u32(off int) uint32 {
	if off+4 > len(m.buf) {
		return 0
	}
	return binary.LittleEndian.Uint32(m.buf[off:])
}

func (m *Metadata) u16(off int) uint16 {
	if off+2 > len(m.buf) {
		return 0
	}
	return binary.LittleEndian.Uint16(m.buf[off:])
}

// TableReport describes one static table overwrite.
type TableReport struct {
	Type        string
	Skipped     bool
	Offset      int
	Length      int
	Copied      int
	SizeChanged bool
}

// OverwriteStaticTable copies the static dispatch table region of src over dst.
//
// Only dst[StaticTableOffset : StaticTableOffset+length] is written, where
// length comes from dst's own ClassSize and ClassAddressPoint. A src that does
// not carry a static table leaves dst untouched. A ClassSize mismatch is
// reported once through logger and the copy proceeds with dst's length.
func OverwriteStaticTable(logger *slog.Logger, name string, dst, src *Metadata) (TableReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	report := TableReport{Type: name, Offset: StaticTableOffset}

	srcLayout := src.Layout()
	if !srcLayout.HasStaticTable() {
		report.Skipped = true
		return report, nil
	}
	dstLayout := dst.Layout()
	if srcLayout.ClassSize != dstLayout.ClassSize {
		report.SizeChanged = true
		logger.Warn("type metadata size changed. Did you add or remove a method?",
			"type", name,
			"old_size", dstLayout.ClassSize,
			"new_size", srcLayout.ClassSize,
		)
	}

	length := dstLayout.StaticTableLength()
	report.Length = length

	dst.mu.Lock()
	defer dst.mu.Unlock()
	if length < 0 || StaticTableOffset+length > len(dst.buf) {
		return report, LayoutError{Type: name, Offset: StaticTableOffset, Length: length, Size: len(dst.buf)}
	}
	region := dst.buf[StaticTableOffset : StaticTableOffset+length]

	if src == dst {
		report.Copied = length
	} else {
		src.mu.RLock()
		if StaticTableOffset < len(src.buf) {
			report.Copied = copy(region, src.buf[StaticTableOffset:])
		}
		src.mu.RUnlock()
	}

	logger.Info("type patched", "type", name, "static_table_length", length)
	return report, nil
}

// metadataBuilder lays out a fresh Metadata buffer for Image.
type metadataBuilder struct {
	layout MetadataLayout
	slots  []IMP
}

func (b metadataBuilder) build() *Metadata {
	size := StaticTableOffset + PointerSize*(len(b.slots)+1)
	l := b.layout
	l.ClassAddressPoint = DefaultClassAddressPoint
	l.ClassSize = uint32(DefaultClassAddressPoint + size)

	buf := make([]byte, size)
	le := binary.LittleEndian
	le.PutUint64(buf[offMetaClass:], l.MetaClass)
	le.PutUint64(buf[offSuperClass:], l.SuperClass)
	le.PutUint64(buf[offCacheData1:], l.CacheData1)
	le.PutUint64(buf[offCacheData2:], l.CacheData2)
	le.PutUint64(buf[offData:], l.Data)
	le.PutUint32(buf[offFlags:], l.Flags)
	le.PutUint32(buf[offInstanceAddressPoint:], l.InstanceAddressPoint)
	le.PutUint32(buf[offInstanceSize:], l.InstanceSize)
	le.PutUint16(buf[offInstanceAlignMask:], l.InstanceAlignMask)
	le.PutUint16(buf[offReserved:], l.Reserved)
	le.PutUint32(buf[offClassSize:], l.ClassSize)
	le.PutUint32(buf[offClassAddressPoint:], l.ClassAddressPoint)
	le.PutUint64(buf[offDescription:], l.Description)
	le.PutUint64(buf[offIVarDestroyer:], l.IVarDestroyer)
	for i, imp := range b.slots {
		le.PutUint64(buf[slotOffset(i):], uint64(imp))
	}
	return NewMetadata(buf)
}
