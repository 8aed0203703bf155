package harness

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	for _, size := range []int{1, 3, 4, 255, 65536} {
		body := []byte(strings.Repeat("x", size))
		var buf bytes.Buffer
		require.NoError(t, WriteFrame(&buf, body))
		assert.Equal(t, frameHeaderSize+size, buf.Len())
		assert.Equal(t, uint32(size), binary.LittleEndian.Uint32(buf.Bytes()))

		read, err := ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, body, read)
	}
}

func TestFrameOverPipe(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- WriteFrame(c1, []byte("<Shutdown/>"))
	}()
	body, err := ReadFrame(c2)
	require.NoError(t, err)
	assert.Equal(t, "<Shutdown/>", string(body))
	require.NoError(t, <-errCh)
}

func TestZeroLengthFrameIsEndOfStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, nil))
	assert.Equal(t, []byte{0, 0, 0, 0}, buf.Bytes())

	_, err := ReadFrame(&buf)
	assert.Equal(t, io.EOF, err)
}

func TestTruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("abcdef")))
	truncated := bytes.NewReader(buf.Bytes()[:7])
	_, err := ReadFrame(truncated)
	assert.Equal(t, io.ErrUnexpectedEOF, err)

	_, err = ReadFrame(bytes.NewReader([]byte{1, 0}))
	assert.Equal(t, io.ErrUnexpectedEOF, err)

	_, err = ReadFrame(bytes.NewReader(nil))
	assert.Equal(t, io.EOF, err)
}

func TestOversizedFrame(t *testing.T) {
	header := make([]byte, frameHeaderSize)
	binary.LittleEndian.PutUint32(header, MaxFrameSize+1)
	_, err := ReadFrame(bytes.NewReader(header))
	assert.True(t, errors.Is(err, ErrFrameTooLarge))
}
