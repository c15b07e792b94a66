package pktline

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePacketReadPacketRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePacket(&buf, []byte("hello")))
	assert.Equal(t, "0009hello", buf.String())

	pkt, err := ReadPacket(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), pkt.Payload)
	assert.False(t, pkt.Flush)
	assert.False(t, pkt.Delim)
}

func TestWriteFlushAndDelim(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFlush(&buf))
	require.NoError(t, WriteDelim(&buf))

	pkt, err := ReadPacket(&buf)
	require.NoError(t, err)
	assert.True(t, pkt.Flush)

	pkt, err = ReadPacket(&buf)
	require.NoError(t, err)
	assert.True(t, pkt.Delim)
}

func TestWritePacketRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	err := WritePacket(&buf, make([]byte, MaxPayloadSize+1))
	assert.Error(t, err)
}

func TestWriteSideBandPrependsChannelByte(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSideBand(&buf, SideBandData, []byte("pack bytes")))

	pkt, err := ReadPacket(&buf)
	require.NoError(t, err)
	require.NotEmpty(t, pkt.Payload)
	assert.Equal(t, SideBandData, pkt.Payload[0])
	assert.Equal(t, []byte("pack bytes"), pkt.Payload[1:])
}

func TestScannerStopsAtFlush(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteString(&buf, "want abc"))
	require.NoError(t, WriteString(&buf, "have def"))
	require.NoError(t, WriteFlush(&buf))
	require.NoError(t, WriteString(&buf, "not reached"))

	scanner := NewScanner(&buf)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, string(scanner.Packet().Payload))
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{"want abc", "have def"}, lines)
	assert.True(t, scanner.Packet().Flush)
}

func TestReadPacketRejectsTruncatedLengthPrefix(t *testing.T) {
	_, err := ReadPacket(strings.NewReader("00"))
	assert.Error(t, err)
}

func TestReadPacketRejectsLengthBelowPrefixWidth(t *testing.T) {
	_, err := ReadPacket(strings.NewReader("0002"))
	assert.Error(t, err)
}

func TestReadPacketRejectsTruncatedPayload(t *testing.T) {
	_, err := ReadPacket(strings.NewReader("000aabc"))
	assert.Error(t, err)
}
