package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte(`{"a":1}`),
		[]byte(`{}`),
		bytes.Repeat([]byte("x"), 4096),
	}

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, p := range payloads {
		require.NoError(t, enc.Write(p))
	}

	dec := NewDecoder(&buf, 0)
	for _, want := range payloads {
		got, err := dec.Next()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := dec.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestShortHeader(t *testing.T) {
	dec := NewDecoder(bytes.NewReader([]byte{0x00, 0x01}), 0)
	_, err := dec.Next()
	var fe *FrameError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, ShortHeader, fe.Kind)
}

func TestShortBody(t *testing.T) {
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, 10)
	dec := NewDecoder(bytes.NewReader(append(header, []byte("abc")...)), 0)
	_, err := dec.Next()
	var fe *FrameError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, ShortBody, fe.Kind)
}

func TestLengthTooLarge(t *testing.T) {
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, 100)
	dec := NewDecoder(bytes.NewReader(header), 50)
	_, err := dec.Next()
	var fe *FrameError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, LengthTooLarge, fe.Kind)
}

func TestConcatenatedFrames(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	want := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, p := range want {
		require.NoError(t, enc.Write(p))
	}

	dec := NewDecoder(&buf, 0)
	var got [][]byte
	for {
		p, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, p)
	}
	require.Equal(t, want, got)
}
