//go:build tinygo || wasm

package host

import "unsafe"

// ReadInput copies the chapter text from the host into guest memory.
func ReadInput() []byte {
	n := inputLen()
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	read := inputRead(unsafe.Pointer(&buf[0]))
	return buf[:read]
}

// WriteOutput hands the transformed chapter back to the host. A filter
// must write something; empty output fails the chapter.
func WriteOutput(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	return outputWrite(unsafe.Pointer(&data[0]), uint32(len(data))) == 0
}

// Log forwards text to the host runtime via the imported host_log function.
func Log(msg string) {
	if len(msg) == 0 {
		return
	}
	b := []byte(msg)
	hostLog(unsafe.Pointer(&b[0]), uint32(len(b)))
}

//go:wasmimport env input_len
func inputLen() uint32

//go:wasmimport env input_read
func inputRead(ptr unsafe.Pointer) uint32

//go:wasmimport env output_write
func outputWrite(ptr unsafe.Pointer, length uint32) int32

//go:wasmimport env host_log
func hostLog(ptr unsafe.Pointer, length uint32)
