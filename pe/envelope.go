// Package pe is the PE/COFF envelope around a CLI metadata image: enough of
// the DOS header, COFF header, PE32+ optional header and section table to
// translate RVAs to file offsets and to locate the CLI header's metadata
// root, plus a minimal writer that places a finished metadata blob into a
// loadable image (spec.md §6).
package pe

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/clrforge/clrmeta/mderr"
)

const (
	dosMagic = 0x5A4D // "MZ"
	peSig    = 0x00004550
	magicPE32Plus = 0x020B

	comDescriptorDirectory = 14 // IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR
	numDataDirectories     = 16
)

// DOSHeader is the minimal DOS header prefix every PE image carries: a
// magic number and a pointer to the real PE header.
type DOSHeader struct {
	Magic    uint16
	PEOffset uint32
}

// COFFHeader is the PE file header (ECMA-335 §II.25.2.2).
type COFFHeader struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

// DataDirectory is one entry of the optional header's data directory array.
type DataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

// OptionalHeader64 is the PE32+ optional header (ECMA-335 §II.25.2.3.2).
type OptionalHeader64 struct {
	Magic                   uint16
	MajorLinkerVersion      uint8
	MinorLinkerVersion      uint8
	SizeOfCode              uint32
	SizeOfInitializedData   uint32
	SizeOfUninitializedData uint32
	AddressOfEntryPoint     uint32
	BaseOfCode              uint32
	ImageBase               uint64
	SectionAlignment        uint32
	FileAlignment           uint32
	MajorOSVersion          uint16
	MinorOSVersion          uint16
	MajorImageVersion       uint16
	MinorImageVersion       uint16
	MajorSubsystemVersion   uint16
	MinorSubsystemVersion   uint16
	Win32VersionValue       uint32
	SizeOfImage             uint32
	SizeOfHeaders           uint32
	CheckSum                uint32
	Subsystem               uint16
	DllCharacteristics      uint16
	SizeOfStackReserve      uint64
	SizeOfStackCommit       uint64
	SizeOfHeapReserve       uint64
	SizeOfHeapCommit        uint64
	LoaderFlags             uint32
	NumberOfRvaAndSizes     uint32
	DataDirectory           [numDataDirectories]DataDirectory
}

// SectionHeader is one entry of the section table.
type SectionHeader struct {
	Name                 [8]byte
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLinenumbers uint32
	NumberOfRelocations  uint16
	NumberOfLinenumbers  uint16
	Characteristics      uint32
}

// COR20Header is the CLI header (ECMA-335 §II.25.3.3), reached through the
// optional header's data directory at comDescriptorDirectory.
type COR20Header struct {
	Cb                  uint32
	MajorRuntimeVersion uint16
	MinorRuntimeVersion uint16
	MetaData            DataDirectory
	Flags               uint32
	EntryPointToken     uint32
	Resources           DataDirectory
	StrongNameSignature DataDirectory
	CodeManagerTable    DataDirectory
	VTableFixups        DataDirectory
	ExportAddressTable  DataDirectory
	ManagedNativeHeader DataDirectory
}

// Envelope parses enough of a PE image to locate CLI metadata and to map
// between RVAs and file offsets, grounded on the teacher's PEReader
// (pe_reader.go) generalised from DLL export parsing to CLI metadata
// lookup.
type Envelope struct {
	r io.ReaderAt

	dos      DOSHeader
	coff     COFFHeader
	opt      OptionalHeader64
	sections []SectionHeader
	cor20    *COR20Header
}

// Open parses the PE envelope from r.
func Open(r io.ReaderAt) (*Envelope, error) {
	e := &Envelope{r: r}
	if err := e.readDOSHeader(); err != nil {
		return nil, err
	}
	if err := e.readPEHeaders(); err != nil {
		return nil, err
	}
	if err := e.readSections(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Envelope) readAt(off int64, buf []byte) error {
	_, err := e.r.ReadAt(buf, off)
	if err != nil {
		return errors.Wrapf(err, "pe: read at offset %#x", off)
	}
	return nil
}

func (e *Envelope) readDOSHeader() error {
	var hdr [64]byte
	if err := e.readAt(0, hdr[:]); err != nil {
		return mderr.New(mderr.PhaseLoad, mderr.KindMalformedImage).
			Detail("short DOS header").Cause(err).Build()
	}
	e.dos.Magic = binary.LittleEndian.Uint16(hdr[0:2])
	if e.dos.Magic != dosMagic {
		return mderr.New(mderr.PhaseLoad, mderr.KindMalformedImage).
			Detail("bad DOS magic %#04x", e.dos.Magic).Build()
	}
	e.dos.PEOffset = binary.LittleEndian.Uint32(hdr[0x3C:0x40])
	return nil
}

func (e *Envelope) readPEHeaders() error {
	off := int64(e.dos.PEOffset)
	var sig [4]byte
	if err := e.readAt(off, sig[:]); err != nil {
		return mderr.New(mderr.PhaseLoad, mderr.KindMalformedImage).
			Detail("short PE signature").Cause(err).Build()
	}
	if binary.LittleEndian.Uint32(sig[:]) != peSig {
		return mderr.New(mderr.PhaseLoad, mderr.KindMalformedImage).
			Detail("bad PE signature").Build()
	}
	off += 4

	var coff [20]byte
	if err := e.readAt(off, coff[:]); err != nil {
		return mderr.New(mderr.PhaseLoad, mderr.KindMalformedImage).
			Detail("short COFF header").Cause(err).Build()
	}
	e.coff = COFFHeader{
		Machine:              binary.LittleEndian.Uint16(coff[0:2]),
		NumberOfSections:     binary.LittleEndian.Uint16(coff[2:4]),
		TimeDateStamp:        binary.LittleEndian.Uint32(coff[4:8]),
		PointerToSymbolTable: binary.LittleEndian.Uint32(coff[8:12]),
		NumberOfSymbols:      binary.LittleEndian.Uint32(coff[12:16]),
		SizeOfOptionalHeader: binary.LittleEndian.Uint16(coff[16:18]),
		Characteristics:      binary.LittleEndian.Uint16(coff[18:20]),
	}
	off += 20

	if e.coff.SizeOfOptionalHeader == 0 {
		return mderr.New(mderr.PhaseLoad, mderr.KindMalformedImage).
			Detail("no optional header").Build()
	}

	var magic [2]byte
	if err := e.readAt(off, magic[:]); err != nil {
		return mderr.New(mderr.PhaseLoad, mderr.KindMalformedImage).
			Detail("short optional header magic").Cause(err).Build()
	}
	if binary.LittleEndian.Uint16(magic[:]) != magicPE32Plus {
		return mderr.New(mderr.PhaseLoad, mderr.KindMalformedImage).
			Detail("only PE32+ images are supported").Build()
	}

	optBuf := make([]byte, e.coff.SizeOfOptionalHeader)
	if err := e.readAt(off, optBuf); err != nil {
		return mderr.New(mderr.PhaseLoad, mderr.KindMalformedImage).
			Detail("short optional header").Cause(err).Build()
	}
	e.opt = OptionalHeader64{
		Magic:                   binary.LittleEndian.Uint16(optBuf[0:2]),
		MajorLinkerVersion:      optBuf[2],
		MinorLinkerVersion:      optBuf[3],
		SizeOfCode:              binary.LittleEndian.Uint32(optBuf[4:8]),
		SizeOfInitializedData:   binary.LittleEndian.Uint32(optBuf[8:12]),
		SizeOfUninitializedData: binary.LittleEndian.Uint32(optBuf[12:16]),
		AddressOfEntryPoint:     binary.LittleEndian.Uint32(optBuf[16:20]),
		BaseOfCode:              binary.LittleEndian.Uint32(optBuf[20:24]),
		ImageBase:               binary.LittleEndian.Uint64(optBuf[24:32]),
		SectionAlignment:        binary.LittleEndian.Uint32(optBuf[32:36]),
		FileAlignment:           binary.LittleEndian.Uint32(optBuf[36:40]),
		MajorOSVersion:          binary.LittleEndian.Uint16(optBuf[40:42]),
		MinorOSVersion:          binary.LittleEndian.Uint16(optBuf[42:44]),
		MajorImageVersion:       binary.LittleEndian.Uint16(optBuf[44:46]),
		MinorImageVersion:       binary.LittleEndian.Uint16(optBuf[46:48]),
		MajorSubsystemVersion:   binary.LittleEndian.Uint16(optBuf[48:50]),
		MinorSubsystemVersion:   binary.LittleEndian.Uint16(optBuf[50:52]),
		Win32VersionValue:       binary.LittleEndian.Uint32(optBuf[52:56]),
		SizeOfImage:             binary.LittleEndian.Uint32(optBuf[56:60]),
		SizeOfHeaders:           binary.LittleEndian.Uint32(optBuf[60:64]),
		CheckSum:                binary.LittleEndian.Uint32(optBuf[64:68]),
		Subsystem:               binary.LittleEndian.Uint16(optBuf[68:70]),
		DllCharacteristics:      binary.LittleEndian.Uint16(optBuf[70:72]),
		SizeOfStackReserve:      binary.LittleEndian.Uint64(optBuf[72:80]),
		SizeOfStackCommit:       binary.LittleEndian.Uint64(optBuf[80:88]),
		SizeOfHeapReserve:       binary.LittleEndian.Uint64(optBuf[88:96]),
		SizeOfHeapCommit:        binary.LittleEndian.Uint64(optBuf[96:104]),
		LoaderFlags:             binary.LittleEndian.Uint32(optBuf[104:108]),
		NumberOfRvaAndSizes:     binary.LittleEndian.Uint32(optBuf[108:112]),
	}
	dirBase := 112
	for i := 0; i < numDataDirectories && dirBase+i*8+8 <= len(optBuf); i++ {
		e.opt.DataDirectory[i] = DataDirectory{
			VirtualAddress: binary.LittleEndian.Uint32(optBuf[dirBase+i*8 : dirBase+i*8+4]),
			Size:           binary.LittleEndian.Uint32(optBuf[dirBase+i*8+4 : dirBase+i*8+8]),
		}
	}
	return nil
}

func (e *Envelope) readSections() error {
	off := int64(e.dos.PEOffset) + 4 + 20 + int64(e.coff.SizeOfOptionalHeader)
	e.sections = make([]SectionHeader, e.coff.NumberOfSections)
	for i := range e.sections {
		var buf [40]byte
		if err := e.readAt(off, buf[:]); err != nil {
			return mderr.New(mderr.PhaseLoad, mderr.KindMalformedImage).
				Detail("short section header %d", i).Cause(err).Build()
		}
		copy(e.sections[i].Name[:], buf[0:8])
		e.sections[i].VirtualSize = binary.LittleEndian.Uint32(buf[8:12])
		e.sections[i].VirtualAddress = binary.LittleEndian.Uint32(buf[12:16])
		e.sections[i].SizeOfRawData = binary.LittleEndian.Uint32(buf[16:20])
		e.sections[i].PointerToRawData = binary.LittleEndian.Uint32(buf[20:24])
		e.sections[i].PointerToRelocations = binary.LittleEndian.Uint32(buf[24:28])
		e.sections[i].PointerToLinenumbers = binary.LittleEndian.Uint32(buf[28:32])
		e.sections[i].NumberOfRelocations = binary.LittleEndian.Uint16(buf[32:34])
		e.sections[i].NumberOfLinenumbers = binary.LittleEndian.Uint16(buf[34:36])
		e.sections[i].Characteristics = binary.LittleEndian.Uint32(buf[36:40])
		off += 40
	}
	return nil
}

// SectionContaining returns the section whose virtual address range
// contains rva, or nil if none does.
func (e *Envelope) SectionContaining(rva uint32) *SectionHeader {
	for i := range e.sections {
		s := &e.sections[i]
		if rva >= s.VirtualAddress && rva < s.VirtualAddress+s.VirtualSize {
			return s
		}
	}
	return nil
}

// RVAToFileOffset converts a relative virtual address to a file offset.
func (e *Envelope) RVAToFileOffset(rva uint32) (uint32, error) {
	s := e.SectionContaining(rva)
	if s == nil {
		return 0, mderr.New(mderr.PhaseLoad, mderr.KindMalformedImage).
			Detail("RVA %#x not contained in any section", rva).Build()
	}
	return rva - s.VirtualAddress + s.PointerToRawData, nil
}

// FileOffsetToRVA converts a file offset back to an RVA, the inverse of
// RVAToFileOffset.
func (e *Envelope) FileOffsetToRVA(offset uint32) (uint32, error) {
	for i := range e.sections {
		s := &e.sections[i]
		if offset >= s.PointerToRawData && offset < s.PointerToRawData+s.SizeOfRawData {
			return offset - s.PointerToRawData + s.VirtualAddress, nil
		}
	}
	return 0, mderr.New(mderr.PhaseLoad, mderr.KindMalformedImage).
		Detail("file offset %#x not contained in any section", offset).Build()
}

// readCOR20 lazily loads and caches the CLI header.
func (e *Envelope) readCOR20() (*COR20Header, error) {
	if e.cor20 != nil {
		return e.cor20, nil
	}
	dd := e.opt.DataDirectory[comDescriptorDirectory]
	if dd.VirtualAddress == 0 {
		return nil, mderr.New(mderr.PhaseLoad, mderr.KindMalformedImage).
			Detail("image has no CLI header").Build()
	}
	fo, err := e.RVAToFileOffset(dd.VirtualAddress)
	if err != nil {
		return nil, err
	}
	var buf [72]byte
	if err := e.readAt(int64(fo), buf[:]); err != nil {
		return nil, mderr.New(mderr.PhaseLoad, mderr.KindMalformedImage).
			Detail("short CLI header").Cause(err).Build()
	}
	h := &COR20Header{
		Cb:                  binary.LittleEndian.Uint32(buf[0:4]),
		MajorRuntimeVersion: binary.LittleEndian.Uint16(buf[4:6]),
		MinorRuntimeVersion: binary.LittleEndian.Uint16(buf[6:8]),
		MetaData: DataDirectory{
			VirtualAddress: binary.LittleEndian.Uint32(buf[8:12]),
			Size:           binary.LittleEndian.Uint32(buf[12:16]),
		},
		Flags:           binary.LittleEndian.Uint32(buf[16:20]),
		EntryPointToken: binary.LittleEndian.Uint32(buf[20:24]),
		Resources: DataDirectory{
			VirtualAddress: binary.LittleEndian.Uint32(buf[24:28]),
			Size:           binary.LittleEndian.Uint32(buf[28:32]),
		},
		StrongNameSignature: DataDirectory{
			VirtualAddress: binary.LittleEndian.Uint32(buf[32:36]),
			Size:           binary.LittleEndian.Uint32(buf[36:40]),
		},
		CodeManagerTable: DataDirectory{
			VirtualAddress: binary.LittleEndian.Uint32(buf[40:44]),
			Size:           binary.LittleEndian.Uint32(buf[44:48]),
		},
		VTableFixups: DataDirectory{
			VirtualAddress: binary.LittleEndian.Uint32(buf[48:52]),
			Size:           binary.LittleEndian.Uint32(buf[52:56]),
		},
		ExportAddressTable: DataDirectory{
			VirtualAddress: binary.LittleEndian.Uint32(buf[56:60]),
			Size:           binary.LittleEndian.Uint32(buf[60:64]),
		},
		ManagedNativeHeader: DataDirectory{
			VirtualAddress: binary.LittleEndian.Uint32(buf[64:68]),
			Size:           binary.LittleEndian.Uint32(buf[68:72]),
		},
	}
	e.cor20 = h
	return h, nil
}

// MetadataRoot returns the raw bytes of the metadata root (the "BSJB"
// signature, version strings and stream directory, followed by every
// stream including "#~"/"#Strings"/"#US"/"#Blob"/"#GUID"), located through
// the CLI header's MetaData data directory.
func (e *Envelope) MetadataRoot() ([]byte, error) {
	h, err := e.readCOR20()
	if err != nil {
		return nil, err
	}
	fo, err := e.RVAToFileOffset(h.MetaData.VirtualAddress)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, h.MetaData.Size)
	if err := e.readAt(int64(fo), buf); err != nil {
		return nil, mderr.New(mderr.PhaseLoad, mderr.KindMalformedImage).
			Detail("short metadata root").Cause(err).Build()
	}
	return buf, nil
}

// EntryPointToken returns the CLI header's entry point method token, or
// the zero token if the image has none (library assemblies).
func (e *Envelope) EntryPointToken() (uint32, error) {
	h, err := e.readCOR20()
	if err != nil {
		return 0, err
	}
	return h.EntryPointToken, nil
}

// MethodBody returns an io.ReaderAt positioned over the method body bytes
// starting at rva, for il.Disassemble to read from; size is unknown ahead
// of decode so the returned reader runs from that file offset to the end
// of the underlying image, not just to the end of the containing section.
func (e *Envelope) MethodBody(rva uint32) (io.ReaderAt, error) {
	fo, err := e.RVAToFileOffset(rva)
	if err != nil {
		return nil, err
	}
	return io.NewSectionReader(e.r, int64(fo), 1<<32-1), nil
}
