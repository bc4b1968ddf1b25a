// Package wasmtest assembles small WebAssembly binaries for tests.
package wasmtest

import (
	"bytes"
	"encoding/binary"
)

// Value type encodings.
const (
	I32  byte = 0x7f
	I64  byte = 0x7e
	F32  byte = 0x7d
	F64  byte = 0x7c
	V128 byte = 0x7b
)

const (
	magic   uint32 = 0x6D736100
	version uint32 = 0x01

	sectionType     byte = 1
	sectionImport   byte = 2
	sectionFunction byte = 3
	sectionMemory   byte = 5
	sectionGlobal   byte = 6
	sectionExport   byte = 7
	sectionCode     byte = 10

	kindFunc   byte = 0
	kindMemory byte = 2

	funcTypeByte byte = 0x60
)

// Import is an imported function.
type Import struct {
	Module  string
	Name    string
	Params  []byte
	Results []byte
}

// Func is a defined function. Body holds the instructions including the
// final end opcode.
type Func struct {
	Export  string
	Params  []byte
	Results []byte
	Locals  []byte
	Body    []byte
}

// Global is a defined global. Init is a constant expression including end.
type Global struct {
	Init    []byte
	Type    byte
	Mutable bool
}

// Module is a core module description that encodes to the binary format.
// Imported functions take the first indices, followed by Funcs in order.
type Module struct {
	MemoryExport string
	Imports      []Import
	Funcs        []Func
	Globals      []Global
	MemoryPages  uint32
	HasMemory    bool
}

// Encode returns the module binary.
func (m *Module) Encode() []byte {
	var w bytes.Buffer
	_ = binary.Write(&w, binary.LittleEndian, magic)
	_ = binary.Write(&w, binary.LittleEndian, version)

	// one type per import and function
	if n := len(m.Imports) + len(m.Funcs); n > 0 {
		var sec bytes.Buffer
		writeU32(&sec, uint32(n))
		for _, imp := range m.Imports {
			writeFuncType(&sec, imp.Params, imp.Results)
		}
		for _, f := range m.Funcs {
			writeFuncType(&sec, f.Params, f.Results)
		}
		writeSection(&w, sectionType, sec.Bytes())
	}

	if len(m.Imports) > 0 {
		var sec bytes.Buffer
		writeU32(&sec, uint32(len(m.Imports)))
		for i, imp := range m.Imports {
			writeName(&sec, imp.Module)
			writeName(&sec, imp.Name)
			sec.WriteByte(kindFunc)
			writeU32(&sec, uint32(i))
		}
		writeSection(&w, sectionImport, sec.Bytes())
	}

	base := uint32(len(m.Imports))

	if len(m.Funcs) > 0 {
		var sec bytes.Buffer
		writeU32(&sec, uint32(len(m.Funcs)))
		for i := range m.Funcs {
			writeU32(&sec, base+uint32(i))
		}
		writeSection(&w, sectionFunction, sec.Bytes())
	}

	if m.HasMemory {
		var sec bytes.Buffer
		writeU32(&sec, 1)
		sec.WriteByte(0x00) // min only
		writeU32(&sec, m.MemoryPages)
		writeSection(&w, sectionMemory, sec.Bytes())
	}

	if len(m.Globals) > 0 {
		var sec bytes.Buffer
		writeU32(&sec, uint32(len(m.Globals)))
		for _, g := range m.Globals {
			sec.WriteByte(g.Type)
			if g.Mutable {
				sec.WriteByte(1)
			} else {
				sec.WriteByte(0)
			}
			sec.Write(g.Init)
		}
		writeSection(&w, sectionGlobal, sec.Bytes())
	}

	var exports bytes.Buffer
	count := uint32(0)
	for i, f := range m.Funcs {
		if f.Export == "" {
			continue
		}
		writeName(&exports, f.Export)
		exports.WriteByte(kindFunc)
		writeU32(&exports, base+uint32(i))
		count++
	}
	if m.HasMemory && m.MemoryExport != "" {
		writeName(&exports, m.MemoryExport)
		exports.WriteByte(kindMemory)
		writeU32(&exports, 0)
		count++
	}
	if count > 0 {
		var sec bytes.Buffer
		writeU32(&sec, count)
		sec.Write(exports.Bytes())
		writeSection(&w, sectionExport, sec.Bytes())
	}

	if len(m.Funcs) > 0 {
		var sec bytes.Buffer
		writeU32(&sec, uint32(len(m.Funcs)))
		for _, f := range m.Funcs {
			var body bytes.Buffer
			writeU32(&body, uint32(len(f.Locals)))
			for _, l := range f.Locals {
				writeU32(&body, 1)
				body.WriteByte(l)
			}
			body.Write(f.Body)
			writeU32(&sec, uint32(body.Len()))
			sec.Write(body.Bytes())
		}
		writeSection(&w, sectionCode, sec.Bytes())
	}

	return w.Bytes()
}

func writeFuncType(w *bytes.Buffer, params, results []byte) {
	w.WriteByte(funcTypeByte)
	writeU32(w, uint32(len(params)))
	w.Write(params)
	writeU32(w, uint32(len(results)))
	w.Write(results)
}

func writeSection(w *bytes.Buffer, id byte, payload []byte) {
	w.WriteByte(id)
	writeU32(w, uint32(len(payload)))
	w.Write(payload)
}

func writeName(w *bytes.Buffer, s string) {
	writeU32(w, uint32(len(s)))
	w.WriteString(s)
}

// writeU32 writes an unsigned LEB128 value
func writeU32(w *bytes.Buffer, v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.WriteByte(b)
		if v == 0 {
			break
		}
	}
}
