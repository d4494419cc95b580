package flat

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// File layout (v1):
//
//	0..7   magic "RAGIDX01"
//	8..15  dim (uint64)
//	16..23 count (uint64)
//	24..39 build id
//	40..   count*dim little-endian float32
const HeaderSize = 40

// MaxDimension bounds the vector width a blob may declare.
const MaxDimension = 1 << 16

var fileMagic = [8]byte{'R', 'A', 'G', 'I', 'D', 'X', '0', '1'}

// ErrInvalidBlob reports a blob that does not follow the layout above.
var ErrInvalidBlob = errors.New("invalid vector index blob")

// Encode writes the index and its build id to w.
func Encode(w io.Writer, x *Index, buildID [16]byte) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	bw := bufio.NewWriter(w)
	var hdr [HeaderSize]byte
	copy(hdr[:8], fileMagic[:])
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(x.dimension))
	binary.LittleEndian.PutUint64(hdr[16:24], uint64(x.count))
	copy(hdr[24:40], buildID[:])
	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}
	var buf [4]byte
	for _, v := range x.data {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Decode reads a blob written by Encode.
func Decode(r io.Reader) (*Index, [16]byte, error) {
	return decode(r, -1)
}

// DecodeSized is Decode for a blob whose total length is known up front.
// The header must agree with size before any payload is allocated.
func DecodeSized(r io.Reader, size int64) (*Index, [16]byte, error) {
	return decode(r, size)
}

func decode(r io.Reader, size int64) (*Index, [16]byte, error) {
	var buildID [16]byte
	br := bufio.NewReader(r)

	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return nil, buildID, fmt.Errorf("%w: short header: %v", ErrInvalidBlob, err)
	}
	var mg [8]byte
	copy(mg[:], hdr[:8])
	if mg != fileMagic {
		return nil, buildID, fmt.Errorf("%w: magic mismatch", ErrInvalidBlob)
	}
	dim := binary.LittleEndian.Uint64(hdr[8:16])
	count := binary.LittleEndian.Uint64(hdr[16:24])
	copy(buildID[:], hdr[24:40])
	if dim == 0 || dim > MaxDimension {
		return nil, buildID, fmt.Errorf("%w: dim=%d", ErrInvalidBlob, dim)
	}
	if size >= 0 {
		payload := uint64(size - HeaderSize)
		if count > payload/(4*dim) || HeaderSize+4*dim*count != uint64(size) {
			return nil, buildID, fmt.Errorf("%w: %d vectors of dim %d do not fit %d bytes", ErrInvalidBlob, count, dim, size)
		}
	}

	x := &Index{dimension: int(dim)}
	row := make([]byte, 4*dim)
	for i := uint64(0); i < count; i++ {
		if _, err := io.ReadFull(br, row); err != nil {
			return nil, buildID, fmt.Errorf("%w: vector %d of %d: %v", ErrInvalidBlob, i, count, err)
		}
		for j := uint64(0); j < dim; j++ {
			x.data = append(x.data, math.Float32frombits(binary.LittleEndian.Uint32(row[4*j:])))
		}
		x.count++
	}
	if _, err := br.ReadByte(); err != io.EOF {
		return nil, buildID, fmt.Errorf("%w: trailing bytes after %d vectors", ErrInvalidBlob, count)
	}
	return x, buildID, nil
}
