package pe

import (
	"github.com/clrforge/clrmeta/bio"
)

// Builder places a finalised metadata blob, a method-body blob and an
// optional resource blob into a minimal `.text`/`.rsrc` PE32+ image,
// generalising the teacher's WritePEHeaderWithImports (pe.go) from a
// native-code executable layout to a CLI image: no import table, no
// relocations, no real DOS stub beyond spec.md's exclusions — just enough
// structure for a runtime to find the CLI header and metadata root.
type Builder struct {
	// Metadata is the finished "#~" metadata root blob (bio.Writer output
	// from the build pipeline's Sort & emit phase).
	Metadata []byte
	// Code is the concatenated, already-laid-out method body blob.
	Code []byte
	// Resources is the optional managed resource blob; may be nil.
	Resources []byte
	// EntryPointToken is the CLI header's entry point method token, or
	// zero for a library assembly.
	EntryPointToken uint32
	// DLL marks the image as a DLL characteristic rather than an EXE.
	DLL bool
}

const (
	imageBase    = 0x140000000
	sectionAlign = 0x1000
	fileAlign    = 0x200
	dosStubSize  = 64
	numSections  = 2 // .text, .rsrc
)

func alignUp(v, to uint32) uint32 {
	if v%to == 0 {
		return v
	}
	return v + (to - v%to)
}

// chain collects the first error from a sequence of bio.Writer calls, so a
// long run of fixed-layout header writes doesn't need an if-err-return
// after every single one.
type chain struct {
	w   *bio.Writer
	err error
}

func (c *chain) u8(v uint8) {
	if c.err == nil {
		c.err = c.w.WriteU8(v)
	}
}
func (c *chain) u16(v uint16) {
	if c.err == nil {
		c.err = c.w.WriteU16(v)
	}
}
func (c *chain) u32(v uint32) {
	if c.err == nil {
		c.err = c.w.WriteU32(v)
	}
}
func (c *chain) u64(v uint64) {
	if c.err == nil {
		c.err = c.w.WriteU64(v)
	}
}
func (c *chain) bytes(b []byte) {
	if c.err == nil {
		c.err = c.w.WriteBytes(b)
	}
}
func (c *chain) zeros(n int) {
	if c.err == nil {
		c.err = c.w.WriteZeros(n)
	}
}
func (c *chain) padTo(target int) {
	if c.err == nil && c.w.Len() < target {
		c.err = c.w.WriteZeros(target - c.w.Len())
	}
}

// Build writes the full PE32+ image.
func (b *Builder) Build() ([]byte, error) {
	w := bio.NewWriter()
	c := &chain{w: w}

	cor20Size := uint32(72)
	textRVA := uint32(sectionAlign)

	cor20Off := uint32(0)
	metaOff := alignUp(cor20Off+cor20Size, 4)
	codeOff := alignUp(metaOff+uint32(len(b.Metadata)), 4)
	textSize := codeOff + uint32(len(b.Code))

	hasRsrc := len(b.Resources) > 0
	sections := 1
	var rsrcSize uint32
	if hasRsrc {
		sections = numSections
		rsrcSize = uint32(len(b.Resources))
	}

	headersSize := alignUp(uint32(dosStubSize+4+20+240)+uint32(sections)*40, fileAlign)
	textFileOff := headersSize
	textRawSize := alignUp(textSize, fileAlign)

	var rsrcFileOff, rsrcRVA, rsrcRawSize uint32
	if hasRsrc {
		rsrcFileOff = textFileOff + textRawSize
		rsrcRVA = alignUp(textRVA+textSize, sectionAlign)
		rsrcRawSize = alignUp(rsrcSize, fileAlign)
	}

	imageSize := alignUp(textRVA+textSize, sectionAlign)
	if hasRsrc {
		imageSize = alignUp(rsrcRVA+rsrcSize, sectionAlign)
	}

	// DOS header + minimal stub.
	c.u16(dosMagic)
	c.zeros(dosStubSize - 2 - 4 - 4)
	c.u32(0)
	c.u32(dosStubSize)

	// PE signature + COFF header.
	c.u32(peSig)
	c.u16(0x8664) // AMD64
	c.u16(uint16(sections))
	c.u32(0)
	c.u32(0)
	c.u32(0)
	c.u16(240) // size of optional header
	characteristics := uint16(0x0022)
	if b.DLL {
		characteristics |= 0x2000
	}
	c.u16(characteristics)

	// Optional header (PE32+).
	c.u16(magicPE32Plus)
	c.u8(0)
	c.u8(0)
	c.u32(textRawSize) // size of code
	c.u32(rsrcRawSize) // size of initialized data
	c.u32(0)
	c.u32(0) // entry point RVA: CLI images load through mscoree, not a native entry
	c.u32(textRVA)
	c.u64(imageBase)
	c.u32(sectionAlign)
	c.u32(fileAlign)
	c.u16(4)
	c.u16(0)
	c.u16(0)
	c.u16(0)
	c.u16(4)
	c.u16(0)
	c.u32(0)
	c.u32(imageSize)
	c.u32(headersSize)
	c.u32(0) // checksum
	c.u16(3) // subsystem: console
	c.u16(0x0120)
	c.u64(0x100000)
	c.u64(0x1000)
	c.u64(0x100000)
	c.u64(0x1000)
	c.u32(0)
	c.u32(numDataDirectories)
	for i := 0; i < numDataDirectories; i++ {
		if i == comDescriptorDirectory {
			c.u32(textRVA)
			c.u32(cor20Size)
		} else {
			c.u32(0)
			c.u32(0)
		}
	}

	writeSectionHeader(c, ".text", textSize, textRVA, textRawSize, textFileOff, 0x60000020)
	if hasRsrc {
		writeSectionHeader(c, ".rsrc", rsrcSize, rsrcRVA, rsrcRawSize, rsrcFileOff, 0x40000040)
	}

	c.padTo(int(headersSize))

	// .text contents: CLI header, metadata root, code.
	textStart := w.Len()
	c.u32(cor20Size)
	c.u16(2) // major runtime version
	c.u16(5) // minor runtime version
	c.u32(textRVA + metaOff)
	c.u32(uint32(len(b.Metadata)))
	c.u32(0x00000001) // COMIMAGE_FLAGS_ILONLY
	c.u32(b.EntryPointToken)
	c.u32(0)
	c.u32(0) // resources
	c.u32(0)
	c.u32(0) // strong name signature
	c.u32(0)
	c.u32(0) // code manager table
	c.u32(0)
	c.u32(0) // vtable fixups
	c.u32(0)
	c.u32(0) // export address table jumps
	c.u32(0)
	c.u32(0) // managed native header

	c.padTo(textStart + int(metaOff))
	c.bytes(b.Metadata)
	c.padTo(textStart + int(codeOff))
	c.bytes(b.Code)
	c.padTo(textStart + int(textRawSize))

	if hasRsrc {
		rsrcStart := w.Len()
		c.bytes(b.Resources)
		c.padTo(rsrcStart + int(rsrcRawSize))
	}

	if c.err != nil {
		return nil, c.err
	}
	w.Freeze()
	return w.Bytes(), nil
}

func writeSectionHeader(c *chain, name string, virtualSize, rva, rawSize, rawOff uint32, chars uint32) {
	var nameBuf [8]byte
	copy(nameBuf[:], name)
	c.bytes(nameBuf[:])
	c.u32(virtualSize)
	c.u32(rva)
	c.u32(rawSize)
	c.u32(rawOff)
	c.u32(0)
	c.u32(0)
	c.u16(0)
	c.u16(0)
	c.u32(chars)
}
