package sqlite

// wrapImport is one host function a wrapper module imports and exports again
// under the same name.
type wrapImport struct {
	module, name    string
	params, results string // value type letters, see valueTypes
}

// wrapperWasm encodes a guest module whose exported functions call straight
// through to their imports. wazero hands out api.Function values for guest
// modules only, so the fake host modules are reached through one of these.
// memPages > 0 also defines and exports "memory".
func wrapperWasm(imports []wrapImport, memPages uint32) []byte {
	var types [][]byte
	typeIdx := map[string]uint32{}
	funcTypes := make([]uint32, len(imports))
	for i, im := range imports {
		key := im.params + ":" + im.results
		idx, ok := typeIdx[key]
		if !ok {
			idx = uint32(len(types))
			typeIdx[key] = idx
			ft := append([]byte{0x60}, wasmValueTypes(im.params)...)
			types = append(types, append(ft, wasmValueTypes(im.results)...))
		}
		funcTypes[i] = idx
	}

	imported := uint32(len(imports))
	var importSec, funcSec, exportSec, codeSec [][]byte
	for i, im := range imports {
		entry := append(wasmName(im.module), wasmName(im.name)...)
		importSec = append(importSec, append(append(entry, 0x00), leb128(funcTypes[i])...))
		funcSec = append(funcSec, leb128(funcTypes[i]))
		exportSec = append(exportSec, append(append(wasmName(im.name), 0x00), leb128(imported+uint32(i))...))

		body := []byte{0x00} // no locals
		for p := 0; p < len(im.params); p++ {
			body = append(body, 0x20) // local.get
			body = append(body, leb128(uint32(p))...)
		}
		body = append(body, 0x10) // call
		body = append(body, leb128(uint32(i))...)
		body = append(body, 0x0b) // end
		codeSec = append(codeSec, append(leb128(uint32(len(body))), body...))
	}

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	out = append(out, wasmSection(1, types)...)
	out = append(out, wasmSection(2, importSec)...)
	out = append(out, wasmSection(3, funcSec)...)
	if memPages > 0 {
		out = append(out, wasmSection(5, [][]byte{append([]byte{0x00}, leb128(memPages)...)})...)
		exportSec = append(exportSec, append(wasmName("memory"), 0x02, 0x00))
	}
	out = append(out, wasmSection(7, exportSec)...)
	out = append(out, wasmSection(10, codeSec)...)
	return out
}

func wasmSection(id byte, entries [][]byte) []byte {
	content := leb128(uint32(len(entries)))
	for _, e := range entries {
		content = append(content, e...)
	}
	return append(append([]byte{id}, leb128(uint32(len(content)))...), content...)
}

func wasmName(s string) []byte {
	return append(leb128(uint32(len(s))), s...)
}

func wasmValueTypes(sig string) []byte {
	out := leb128(uint32(len(sig)))
	for _, c := range sig {
		switch c {
		case 'i':
			out = append(out, 0x7f)
		case 'I':
			out = append(out, 0x7e)
		case 'F':
			out = append(out, 0x7c)
		}
	}
	return out
}

func leb128(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}
