package probe

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/multiformats/go-varint"

	"github.com/MrSnakeDoc/mcwatch/internal/domain"
)

const (
	// handshake protocol version; servers answer status for any value
	javaHandshakeVersion = 47
	javaStateStatus      = 1

	packetStatus = 0x00
	packetPing   = 0x01

	maxPacketSize = 1 << 21
)

var errBadPacket = errors.New("malformed packet")

type javaStatus struct {
	Version struct {
		Name     string `json:"name"`
		Protocol int    `json:"protocol"`
	} `json:"version"`
	Players struct {
		Max    int `json:"max"`
		Online int `json:"online"`
	} `json:"players"`
	Description json.RawMessage `json:"description"`
	Favicon     string          `json:"favicon"`
}

// javaProbe runs the server list ping exchange on conn: handshake, status
// request, then a ping whose round trip is the reported latency.
func javaProbe(conn net.Conn, addr domain.Address, now func() time.Time) (*domain.StatusReading, error) {
	r := bufio.NewReader(conn)

	if err := writePacket(conn, packetStatus, handshake(addr)); err != nil {
		return nil, fmt.Errorf("handshake: %w", err)
	}
	start := now()
	if err := writePacket(conn, packetStatus, nil); err != nil {
		return nil, fmt.Errorf("status request: %w", err)
	}

	id, body, err := readPacket(r)
	if err != nil {
		return nil, fmt.Errorf("status response: %w", err)
	}
	if id != packetStatus {
		return nil, fmt.Errorf("%w: unexpected packet id %#x", errBadPacket, id)
	}
	statusRTT := now().Sub(start)

	raw, err := readString(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("status response: %w", err)
	}
	var st javaStatus
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("%w: status json: %v", errBadPacket, err)
	}

	reading := &domain.StatusReading{
		Latency:         statusRTT,
		PlayersOnline:   st.Players.Online,
		PlayersMax:      st.Players.Max,
		Version:         st.Version.Name,
		ProtocolVersion: st.Version.Protocol,
		MOTD:            chatText(st.Description),
		Icon:            st.Favicon,
	}

	// Some servers close after the status; the status round trip stands in.
	if rtt, err := javaPing(conn, r, now); err == nil {
		reading.Latency = rtt
	}
	return reading, nil
}

func javaPing(conn net.Conn, r *bufio.Reader, now func() time.Time) (time.Duration, error) {
	start := now()
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, uint64(start.UnixMilli()))
	if err := writePacket(conn, packetPing, payload); err != nil {
		return 0, err
	}
	id, body, err := readPacket(r)
	if err != nil {
		return 0, err
	}
	if id != packetPing || !bytes.Equal(body, payload) {
		return 0, fmt.Errorf("%w: bad pong", errBadPacket)
	}
	return now().Sub(start), nil
}

func handshake(addr domain.Address) []byte {
	var b bytes.Buffer
	b.Write(varint.ToUvarint(javaHandshakeVersion))
	writeString(&b, addr.Host)
	_ = binary.Write(&b, binary.BigEndian, uint16(addr.Port))
	b.Write(varint.ToUvarint(javaStateStatus))
	return b.Bytes()
}

// writePacket frames id and payload as length-prefixed VarInt packet.
func writePacket(w io.Writer, id uint64, payload []byte) error {
	body := append(varint.ToUvarint(id), payload...)
	frame := append(varint.ToUvarint(uint64(len(body))), body...)
	_, err := w.Write(frame)
	return err
}

func readPacket(r *bufio.Reader) (uint64, []byte, error) {
	n, err := varint.ReadUvarint(r)
	if err != nil {
		return 0, nil, err
	}
	if n == 0 || n > maxPacketSize {
		return 0, nil, fmt.Errorf("%w: length %d", errBadPacket, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, err
	}
	id, used, err := varint.FromUvarint(buf)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: packet id: %v", errBadPacket, err)
	}
	return id, buf[used:], nil
}

func writeString(b *bytes.Buffer, s string) {
	b.Write(varint.ToUvarint(uint64(len(s))))
	b.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := varint.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	if n > uint64(r.Len()) {
		return "", fmt.Errorf("%w: string length %d exceeds packet", errBadPacket, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

type chatComponent struct {
	Text  string          `json:"text"`
	Extra []chatComponent `json:"extra"`
}

// UnmarshalJSON accepts both a bare string and a component object.
func (c *chatComponent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		return nil
	}
	type plain chatComponent
	return json.Unmarshal(data, (*plain)(c))
}

func (c chatComponent) flatten(b *strings.Builder) {
	b.WriteString(c.Text)
	for _, e := range c.Extra {
		e.flatten(b)
	}
}

// chatText flattens a description into plain text.
func chatText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var c chatComponent
	if err := json.Unmarshal(raw, &c); err != nil {
		return ""
	}
	var b strings.Builder
	c.flatten(&b)
	return stripFormatting(b.String())
}

// stripFormatting removes legacy section-sign color codes.
func stripFormatting(s string) string {
	if !strings.ContainsRune(s, '§') {
		return s
	}
	var b strings.Builder
	skip := false
	for _, r := range s {
		switch {
		case skip:
			skip = false
		case r == '§':
			skip = true
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
