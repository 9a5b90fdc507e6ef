package udp

import (
	"testing"

	"github.com/groundwater/ghostvm-vnet/wire"
	"github.com/stretchr/testify/require"
)

func TestNewFrameRejectsShortBuffer(t *testing.T) {
	_, err := NewFrame(make([]byte, HeaderLen-1))
	require.Error(t, err)
}

func TestFieldAccessAndPayloadLength(t *testing.T) {
	buf := make([]byte, HeaderLen+4)
	f, err := NewFrame(buf)
	require.NoError(t, err)

	f.SetSourcePort(53000)
	f.SetDestinationPort(53)
	f.SetPayloadLength(4)
	copy(f.Payload(), []byte("ping"))

	require.Equal(t, uint16(53000), f.SourcePort())
	require.Equal(t, uint16(53), f.DestinationPort())
	require.Equal(t, uint16(HeaderLen+4), f.Length())
	require.Equal(t, []byte("ping"), f.Payload())
}

func TestValidateSizeCatchesInconsistentLength(t *testing.T) {
	var v wire.Validator
	buf := make([]byte, HeaderLen+4)
	f, err := NewFrame(buf)
	require.NoError(t, err)

	f.SetLength(2) // below HeaderLen
	f.ValidateSize(&v)
	require.True(t, v.HasError())

	v.ResetErr()
	f.SetLength(uint16(len(buf) + 10))
	f.ValidateSize(&v)
	require.True(t, v.HasError())
}

func TestCalculateChecksumIsDeterministic(t *testing.T) {
	buf := make([]byte, HeaderLen+4)
	f, err := NewFrame(buf)
	require.NoError(t, err)
	f.SetSourcePort(1)
	f.SetDestinationPort(2)
	f.SetPayloadLength(4)
	copy(f.Payload(), []byte("data"))

	var pseudo wire.Checksum791
	pseudo.AddUint16(0x0a00)
	pseudo.AddUint16(0x0001)
	pseudo.AddUint16(0x0a00)
	pseudo.AddUint16(0x0002)
	pseudo.AddUint16(17)
	pseudo.AddUint16(f.Length())

	sum1 := CalculateChecksum(pseudo, f)
	sum2 := CalculateChecksum(pseudo, f)
	require.Equal(t, sum1, sum2)
	require.NotEqual(t, uint16(0), sum1) // NeverZero guard
}
