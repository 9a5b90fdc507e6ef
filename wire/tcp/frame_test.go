package tcp

import (
	"testing"

	"github.com/groundwater/ghostvm-vnet/wire"
	"github.com/stretchr/testify/require"
)

func TestNewFrameRejectsShortBuffer(t *testing.T) {
	_, err := NewFrame(make([]byte, HeaderLen-1))
	require.Error(t, err)
}

func TestNewFrameRejectsBadDataOffset(t *testing.T) {
	buf := make([]byte, HeaderLen)
	f := Frame{buf: buf}
	f.SetDataOffset(3) // below the minimum of 5
	_, err := NewFrame(buf)
	require.Error(t, err)
}

func TestFieldAccess(t *testing.T) {
	buf := make([]byte, HeaderLen+4)
	Frame{buf: buf}.SetDataOffset(5)
	f, err := NewFrame(buf)
	require.NoError(t, err)

	f.SetSourcePort(40000)
	f.SetDestinationPort(80)
	f.SetSeq(100)
	f.SetAck(200)
	f.SetDataOffset(5)
	f.SetFlags(FlagSYN | FlagACK)
	f.SetWindowSize(65535)
	copy(f.Payload(), []byte("ping"))

	require.Equal(t, uint16(40000), f.SourcePort())
	require.Equal(t, uint32(100), f.Seq())
	require.Equal(t, uint32(200), f.Ack())
	require.True(t, f.Flags().Has(FlagSYN))
	require.True(t, f.Flags().Has(FlagACK))
	require.False(t, f.Flags().Has(FlagFIN))
	require.Equal(t, []byte("ping"), f.Payload())
}

func TestFlagsString(t *testing.T) {
	require.Equal(t, "SA", (FlagSYN | FlagACK).String())
	require.Equal(t, ".", Flags(0).String())
}

func TestValidateSizeCatchesBadDataOffset(t *testing.T) {
	var v wire.Validator
	buf := make([]byte, HeaderLen)
	Frame{buf: buf}.SetDataOffset(5)
	f, err := NewFrame(buf)
	require.NoError(t, err)

	f.SetDataOffset(6) // exceeds a 20-byte buffer
	f.ValidateSize(&v)
	require.True(t, v.HasError())
}

func TestCalculateChecksumPreservesChecksumField(t *testing.T) {
	buf := make([]byte, HeaderLen+4)
	Frame{buf: buf}.SetDataOffset(5)
	f, err := NewFrame(buf)
	require.NoError(t, err)
	f.SetDataOffset(5)
	f.SetChecksum(0xbeef)
	copy(f.Payload(), []byte("data"))

	var pseudo wire.Checksum791
	CalculateChecksum(pseudo, buf)

	require.Equal(t, uint16(0xbeef), f.Checksum())
}
