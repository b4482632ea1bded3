package probe

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/MrSnakeDoc/mcwatch/internal/domain"
)

const (
	raknetUnconnectedPing = 0x01
	raknetUnconnectedPong = 0x1c
)

// raknetMagic is the offline message id every unconnected packet carries.
var raknetMagic = []byte{
	0x00, 0xff, 0xff, 0x00, 0xfe, 0xfe, 0xfe, 0xfe,
	0xfd, 0xfd, 0xfd, 0xfd, 0x12, 0x34, 0x56, 0x78,
}

func unconnectedPing(sent time.Time, guid uint64) []byte {
	b := make([]byte, 0, 33)
	b = append(b, raknetUnconnectedPing)
	b = binary.BigEndian.AppendUint64(b, uint64(sent.UnixMilli()))
	b = append(b, raknetMagic...)
	b = binary.BigEndian.AppendUint64(b, guid)
	return b
}

// bedrockProbe sends one unconnected ping on conn and parses the pong's
// server id string: edition;motd;protocol;version;online;max;...
func bedrockProbe(conn net.Conn, now func() time.Time, guid uint64) (*domain.StatusReading, error) {
	start := now()
	if _, err := conn.Write(unconnectedPing(start, guid)); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}

	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("pong: %w", err)
	}
	latency := now().Sub(start)

	id, err := parsePong(buf[:n])
	if err != nil {
		return nil, err
	}
	reading, err := parseServerID(id)
	if err != nil {
		return nil, err
	}
	reading.Latency = latency
	return reading, nil
}

// parsePong returns the server id string of an unconnected pong.
func parsePong(p []byte) (string, error) {
	// id(1) time(8) guid(8) magic(16) len(2)
	const header = 1 + 8 + 8 + 16 + 2
	if len(p) < header || p[0] != raknetUnconnectedPong {
		return "", fmt.Errorf("%w: not an unconnected pong", errBadPacket)
	}
	if !bytes.Equal(p[17:33], raknetMagic) {
		return "", fmt.Errorf("%w: bad magic", errBadPacket)
	}
	n := int(binary.BigEndian.Uint16(p[33:35]))
	if len(p) < header+n {
		return "", fmt.Errorf("%w: truncated server id", errBadPacket)
	}
	return string(p[header : header+n]), nil
}

func parseServerID(id string) (*domain.StatusReading, error) {
	f := strings.Split(id, ";")
	if len(f) < 6 {
		return nil, fmt.Errorf("%w: server id has %d fields", errBadPacket, len(f))
	}
	protocol, _ := strconv.Atoi(f[2])
	online, err := strconv.Atoi(f[4])
	if err != nil {
		return nil, fmt.Errorf("%w: players online %q", errBadPacket, f[4])
	}
	maxPlayers, err := strconv.Atoi(f[5])
	if err != nil {
		return nil, fmt.Errorf("%w: players max %q", errBadPacket, f[5])
	}

	motd := f[1]
	if len(f) > 7 && f[7] != "" {
		motd += "\n" + f[7]
	}
	return &domain.StatusReading{
		Edition:         f[0],
		MOTD:            stripFormatting(motd),
		ProtocolVersion: protocol,
		Version:         f[3],
		PlayersOnline:   online,
		PlayersMax:      maxPlayers,
	}, nil
}
