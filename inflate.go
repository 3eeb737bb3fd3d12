package omt

import (
	"bufio"
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

const inflateChunk = 256 << 10

// Inflate decompresses the zlib stream held in src[begin:begin+length].
//
// Input is fed and output grown in fixed-size chunks until the stream ends
// or the input runs out; running out of input is not an error, the caller
// compares the result against the size it expects. Any other decompressor
// error fails the whole call.
func Inflate(src []byte, begin, length int) ([]byte, error) {
	if begin < 0 || length < 0 || begin+length > len(src) {
		return nil, errors.Errorf("inflate range [%d, +%d) outside %d byte buffer", begin, length, len(src))
	}
	in := bufio.NewReaderSize(bytes.NewReader(src[begin:begin+length]), inflateChunk)
	zr, err := zlib.NewReader(in)
	if err != nil {
		return nil, errors.Wrap(err, "zlib header")
	}
	defer zr.Close()

	var out []byte
	for {
		n := len(out)
		out = append(out, make([]byte, inflateChunk)...)
		m, err := readChunk(zr, out[n:])
		out = out[:n+m]
		switch {
		case err == nil:
			continue
		case err == io.EOF, err == io.ErrUnexpectedEOF:
			return out, nil
		default:
			return nil, errors.Wrap(err, "zlib inflate")
		}
	}
}

func readChunk(r io.Reader, p []byte) (int, error) {
	n := 0
	for n < len(p) {
		m, err := r.Read(p[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
