package objfmt

import (
	"bytes"
	"compress/zlib"
	"io"

	"github.com/antgroup/hugescm/internal/ierr"
)

// countingReader tracks how many bytes have been pulled from the underlying
// reader, the way modules/streamio wraps readers for byte accounting. A
// packfile concatenates zlib streams with no length prefix, so the only way
// to know where one entry's compressed bytes end is to ask the decompressor
// how much of the input it actually consumed.
type countingReader struct {
	r *bytes.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

// ReadByte makes countingReader an io.ByteReader, so flate reads from it
// directly instead of wrapping it in a read-ahead bufio.Reader that would
// pull bytes past the end of this stream.
func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}

// Inflate decompresses a single zlib stream beginning at buf[at:], and
// reports both the decoded bytes and the number of input bytes consumed
// (zlib header + deflate stream + Adler-32 trailer). expectedSize bounds
// the output to guard against a corrupt or hostile stream inflating without
// limit.
func Inflate(buf []byte, at int, expectedSize int64) (data []byte, consumed int, err error) {
	if at < 0 || at > len(buf) {
		return nil, 0, ierr.MalformedInput("inflate: offset %d out of range", at)
	}
	cr := &countingReader{r: bytes.NewReader(buf[at:])}
	zr, err := zlib.NewReader(cr)
	if err != nil {
		return nil, 0, ierr.MalformedInput("inflate: bad zlib header: %v", err)
	}
	defer zr.Close()
	lr := io.LimitReader(zr, expectedSize+1)
	out, err := io.ReadAll(lr)
	if err != nil {
		return nil, 0, ierr.Corruption("inflate: %v", err)
	}
	if int64(len(out)) != expectedSize {
		return nil, 0, ierr.Corruption("inflate: expected %d bytes, got %d", expectedSize, len(out))
	}
	// Drain the trailer (Adler-32 checksum) so cr.n reflects every byte
	// this stream occupies, including the checksum zlib only reads once
	// the deflate stream reports its end.
	var drain [32]byte
	for {
		n, rerr := zr.Read(drain[:])
		_ = n
		if rerr != nil {
			break
		}
	}
	return out, cr.n, nil
}

// Deflate compresses payload with the default zlib window, matching the
// framing any conformant Git implementation will inflate.
func Deflate(payload []byte) []byte {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, _ = zw.Write(payload)
	_ = zw.Close()
	return buf.Bytes()
}
