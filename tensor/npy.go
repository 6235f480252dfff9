package tensor

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

const npyMagic = "\x93NUMPY"

var (
	npyDescrRe   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	npyFortranRe = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	npyShapeRe   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// NpyHeader describes the array stored in a .npy file
type NpyHeader struct {
	DType DType
	Shape []int
	// DataOffset is the byte offset of the array data from the start of the file
	DataOffset int64
}

// DataSize returns the size of the array data in bytes
func (h *NpyHeader) DataSize() int64 {
	return int64(numElements(h.Shape) * h.DType.Size())
}

// ReadNpyHeader parses the header of a .npy stream, leaving r positioned at the start of the data
func ReadNpyHeader(r io.Reader) (*NpyHeader, error) {
	preamble := make([]byte, 8)
	if _, err := io.ReadFull(r, preamble); err != nil {
		return nil, fmt.Errorf("failed to read npy preamble: %w", err)
	}
	if string(preamble[:6]) != npyMagic {
		return nil, fmt.Errorf("invalid npy file: magic string mismatch")
	}
	var headerLen int
	offset := int64(8)
	switch major := preamble[6]; {
	case major == 1:
		lenBytes := make([]byte, 2)
		if _, err := io.ReadFull(r, lenBytes); err != nil {
			return nil, fmt.Errorf("failed to read npy header length: %w", err)
		}
		headerLen = int(binary.LittleEndian.Uint16(lenBytes))
		offset += 2
	case major >= 2:
		lenBytes := make([]byte, 4)
		if _, err := io.ReadFull(r, lenBytes); err != nil {
			return nil, fmt.Errorf("failed to read npy header length: %w", err)
		}
		headerLen = int(binary.LittleEndian.Uint32(lenBytes))
		offset += 4
	default:
		return nil, fmt.Errorf("unsupported npy version %d.%d", preamble[6], preamble[7])
	}
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("failed to read npy header: %w", err)
	}
	h, err := parseNpyHeader(string(header))
	if err != nil {
		return nil, err
	}
	h.DataOffset = offset + int64(headerLen)
	return h, nil
}

func parseNpyHeader(header string) (*NpyHeader, error) {
	m := npyDescrRe.FindStringSubmatch(header)
	if len(m) < 2 {
		return nil, fmt.Errorf("could not find 'descr' in npy header %q", header)
	}
	dtype, err := DTypeFromNumpy(m[1])
	if err != nil {
		return nil, err
	}
	m = npyFortranRe.FindStringSubmatch(header)
	if len(m) < 2 {
		return nil, fmt.Errorf("could not find 'fortran_order' in npy header %q", header)
	}
	if m[1] == "True" {
		return nil, fmt.Errorf("fortran-ordered npy arrays are not supported")
	}
	m = npyShapeRe.FindStringSubmatch(header)
	if len(m) < 2 {
		return nil, fmt.Errorf("could not find 'shape' in npy header %q", header)
	}
	shape := []int{}
	for _, p := range strings.Split(m[1], ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		d, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid npy shape value %q: %w", p, err)
		}
		shape = append(shape, d)
	}
	if len(shape) == 0 {
		// scalars are treated as a single row
		shape = []int{1}
	}
	return &NpyHeader{DType: dtype, Shape: shape}, nil
}

// ReadNpy reads a whole .npy stream into host memory
func ReadNpy(r io.Reader) (*Dense, error) {
	h, err := ReadNpyHeader(r)
	if err != nil {
		return nil, err
	}
	data := make([]byte, h.DataSize())
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("failed to read npy data (expected %d bytes): %w", len(data), err)
	}
	return New(h.DType, data, h.Shape...)
}

// ReadNpyFile reads a .npy file into host memory
func ReadNpyFile(path string) (*Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open npy file %q: %w", path, err)
	}
	defer f.Close()
	return ReadNpy(bufio.NewReader(f))
}

// WriteNpy writes t in npy format version 1.0
func WriteNpy(w io.Writer, t Tensor) error {
	shape := t.Shape()
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
	}
	shapeStr := strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeStr += ","
	}
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", t.DType().NumpyDescr(), shapeStr)
	// the data must start on a 64-byte boundary, and the header ends with a newline
	total := len(npyMagic) + 2 + 2 + len(header) + 1
	if pad := total % 64; pad != 0 {
		header += strings.Repeat(" ", 64-pad)
	}
	header += "\n"
	var buf bytes.Buffer
	buf.WriteString(npyMagic)
	buf.Write([]byte{1, 0})
	lenBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(lenBytes, uint16(len(header)))
	buf.Write(lenBytes)
	buf.WriteString(header)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(t.Bytes())
	return err
}

// WriteNpyFile writes t to a .npy file at path
func WriteNpyFile(path string, t Tensor) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create npy file %q: %w", path, err)
	}
	if err := WriteNpy(f, t); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
