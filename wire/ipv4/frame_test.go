package ipv4

import (
	"testing"

	"github.com/groundwater/ghostvm-vnet/wire"
	"github.com/stretchr/testify/require"
)

func buildBasicHeader(t *testing.T, payloadLen int) []byte {
	t.Helper()
	buf := make([]byte, HeaderLen+payloadLen)
	f := Frame{buf: buf}
	f.SetVersionAndIHL(4, 5)
	f.SetTotalLength(uint16(HeaderLen + payloadLen))
	f.SetTTL(64)
	f.SetProtocol(ProtoUDP)
	*f.Source() = [4]byte{10, 0, 0, 1}
	*f.Destination() = [4]byte{10, 0, 0, 2}
	return buf
}

func TestNewFrameAccepts(t *testing.T) {
	buf := buildBasicHeader(t, 4)
	f, err := NewFrame(buf)
	require.NoError(t, err)
	require.Equal(t, uint8(4), f.Version())
	require.Equal(t, HeaderLen, f.HeaderLength())
	require.Equal(t, ProtoUDP, f.Protocol())
	require.Len(t, f.Payload(), 4)
}

func TestNewFrameRejectsBadVersion(t *testing.T) {
	buf := buildBasicHeader(t, 0)
	buf[0] = 0x50 // version 5
	_, err := NewFrame(buf)
	require.Error(t, err)
}

func TestNewFrameRejectsShortBuffer(t *testing.T) {
	_, err := NewFrame(make([]byte, HeaderLen-1))
	require.ErrorIs(t, err, wire.ErrShortBuffer)
}

func TestNewFrameRejectsBadIHL(t *testing.T) {
	buf := buildBasicHeader(t, 4)
	buf[0] = 0x44 // IHL 4, below the minimum of 5
	_, err := NewFrame(buf)
	require.Error(t, err)
}

func TestNewFrameRejectsTruncatedTotalLength(t *testing.T) {
	buf := buildBasicHeader(t, 4)
	f := Frame{buf: buf}
	f.SetTotalLength(uint16(len(buf) + 10))
	_, err := NewFrame(buf)
	require.Error(t, err)
}

func TestHeaderChecksumRoundTrips(t *testing.T) {
	buf := buildBasicHeader(t, 4)
	f, err := NewFrame(buf)
	require.NoError(t, err)
	f.SetChecksum(0)
	sum := f.CalculateHeaderChecksum()
	f.SetChecksum(sum)

	var c wire.Checksum791
	c.Write(buf[:HeaderLen])
	require.Equal(t, uint16(0), c.Sum16())
}

func TestProtoString(t *testing.T) {
	require.Equal(t, "TCP", ProtoTCP.String())
	require.Equal(t, "UDP", ProtoUDP.String())
	require.Equal(t, "ICMP", ProtoICMP.String())
	require.Equal(t, "unknown", Proto(99).String())
}
