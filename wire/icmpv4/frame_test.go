package icmpv4

import (
	"testing"

	"github.com/groundwater/ghostvm-vnet/wire"
	"github.com/stretchr/testify/require"
)

func TestNewFrameRejectsShortBuffer(t *testing.T) {
	_, err := NewFrame(make([]byte, HeaderLen-1))
	require.Error(t, err)
}

func TestEchoFieldAccess(t *testing.T) {
	buf := make([]byte, EchoHeaderLen+4)
	f, err := NewFrame(buf)
	require.NoError(t, err)

	f.SetType(TypeEchoRequest)
	f.SetCode(0)
	f.SetIdentifier(0x1234)
	f.SetSequence(1)
	copy(f.Payload(), []byte("ping"))

	require.Equal(t, TypeEchoRequest, f.Type())
	require.Equal(t, uint16(0x1234), f.Identifier())
	require.Equal(t, uint16(1), f.Sequence())
	require.Equal(t, []byte("ping"), f.Payload())
}

func TestBuildEchoReplyChecksumVerifies(t *testing.T) {
	buf := make([]byte, EchoHeaderLen+4)
	f, err := NewFrame(buf)
	require.NoError(t, err)
	f.SetType(TypeEchoRequest)
	f.SetIdentifier(7)
	f.SetSequence(3)
	copy(f.Payload(), []byte("abcd"))

	BuildEchoReply(f)
	require.Equal(t, TypeEchoReply, f.Type())

	var c wire.Checksum791
	c.AddUint16(uint16(f.Type())<<8 | uint16(f.Code()))
	c.AddUint16(f.Checksum())
	c.WritePadded(buf[HeaderLen:])
	require.Equal(t, uint16(0), c.Sum16())
}

func TestClearHeaderLeavesEchoFields(t *testing.T) {
	buf := make([]byte, EchoHeaderLen)
	f, err := NewFrame(buf)
	require.NoError(t, err)
	f.SetType(TypeEchoRequest)
	f.SetIdentifier(42)

	f.ClearHeader()

	require.Equal(t, Type(0), f.Type())
	require.Equal(t, uint16(42), f.Identifier())
}
