package probe

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/multiformats/go-varint"

	"github.com/MrSnakeDoc/mcwatch/internal/domain"
)

const javaStatusJSON = `{
	"version": {"name": "Paper 1.21.1", "protocol": 767},
	"players": {"max": 20, "online": 3},
	"description": {"text": "§aHello ", "extra": [{"text": "world"}]},
	"favicon": "data:image/png;base64,iVBORw0KGgo="
}`

// serveJava answers the server list ping on a loopback listener.
// handshakes receives the host announced in each handshake.
func serveJava(t *testing.T, status string, answerPing bool) (domain.Address, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	handshakes := make(chan string, 8)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				r := bufio.NewReader(conn)

				_, body, err := readPacket(r)
				if err != nil {
					return
				}
				br := bytes.NewReader(body)
				if _, err := varint.ReadUvarint(br); err != nil {
					return
				}
				host, err := readString(br)
				if err != nil {
					return
				}
				handshakes <- host

				if _, _, err := readPacket(r); err != nil {
					return
				}
				var resp bytes.Buffer
				writeString(&resp, status)
				if err := writePacket(conn, packetStatus, resp.Bytes()); err != nil {
					return
				}
				if !answerPing {
					return
				}
				id, payload, err := readPacket(r)
				if err != nil || id != packetPing {
					return
				}
				_ = writePacket(conn, packetPing, payload)
			}()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	return domain.Address{Host: "127.0.0.1", Port: port}, handshakes
}

func TestJavaProbe(t *testing.T) {
	for _, ping := range []bool{true, false} {
		addr, handshakes := serveJava(t, javaStatusJSON, ping)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		reading, err := New().Probe(ctx, addr, domain.ProtocolJava)
		cancel()
		if err != nil {
			t.Fatalf("ping=%v: Probe() error = %v", ping, err)
		}

		if got := <-handshakes; got != "127.0.0.1" {
			t.Errorf("handshake host = %q", got)
		}
		if reading.Version != "Paper 1.21.1" || reading.ProtocolVersion != 767 {
			t.Errorf("version = %q/%d", reading.Version, reading.ProtocolVersion)
		}
		if reading.PlayersOnline != 3 || reading.PlayersMax != 20 {
			t.Errorf("players = %d/%d", reading.PlayersOnline, reading.PlayersMax)
		}
		if reading.MOTD != "Hello world" {
			t.Errorf("MOTD = %q", reading.MOTD)
		}
		if icon, err := reading.IconPNG(); err != nil || len(icon) == 0 {
			t.Errorf("IconPNG() = %d bytes, %v", len(icon), err)
		}
	}
}

func TestJavaProbeMalformedStatus(t *testing.T) {
	addr, _ := serveJava(t, "{not json", false)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := New().Probe(ctx, addr, domain.ProtocolJava); !errors.Is(err, errBadPacket) {
		t.Errorf("Probe() error = %v, want errBadPacket", err)
	}
}

func TestJavaProbeRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := New().Probe(ctx, domain.Address{Host: "127.0.0.1", Port: port}, domain.ProtocolJava); err == nil {
		t.Error("Probe() on closed port succeeded")
	}
}

func TestJavaProbeHonorsDeadline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	var mu sync.Mutex
	var conns []net.Conn
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			// accept and stay silent
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()

	addr := domain.Address{Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = New().Probe(ctx, addr, domain.ProtocolJava)
	if err == nil {
		t.Fatal("Probe() against silent server succeeded")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Probe() took %v, deadline not honored", elapsed)
	}
}

func serveBedrock(t *testing.T, serverID string) domain.Address {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pc.Close() })

	go func() {
		buf := make([]byte, 1500)
		for {
			n, from, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			ping := buf[:n]
			if n < 33 || ping[0] != raknetUnconnectedPing || !bytes.Equal(ping[9:25], raknetMagic) {
				continue
			}
			pong := []byte{raknetUnconnectedPong}
			pong = append(pong, ping[1:9]...)
			pong = binary.BigEndian.AppendUint64(pong, 0xdeadbeef)
			pong = append(pong, raknetMagic...)
			pong = binary.BigEndian.AppendUint16(pong, uint16(len(serverID)))
			pong = append(pong, serverID...)
			_, _ = pc.WriteTo(pong, from)
		}
	}()

	return domain.Address{Host: "127.0.0.1", Port: pc.LocalAddr().(*net.UDPAddr).Port}
}

func TestBedrockProbe(t *testing.T) {
	addr := serveBedrock(t, "MCPE;Dedicated Server;686;1.21.2;4;10;1234567890;Bedrock level;Survival;1;19132;19133;")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reading, err := New().Probe(ctx, addr, domain.ProtocolBedrock)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	want := domain.StatusReading{
		Edition:         "MCPE",
		MOTD:            "Dedicated Server\nBedrock level",
		ProtocolVersion: 686,
		Version:         "1.21.2",
		PlayersOnline:   4,
		PlayersMax:      10,
	}
	reading.Latency = 0
	if *reading != want {
		t.Errorf("reading = %+v, want %+v", *reading, want)
	}
}

func TestBedrockProbeNoAnswer(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pc.Close() })
	addr := domain.Address{Host: "127.0.0.1", Port: pc.LocalAddr().(*net.UDPAddr).Port}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := New().Probe(ctx, addr, domain.ProtocolBedrock); err == nil {
		t.Error("Probe() with silent peer succeeded")
	}
}

func TestParseServerID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"MCPE;motd;686;1.21.2;0;10", false},
		{"MCEE;edu;589;1.20;1;40;id;level", false},
		{"MCPE;motd;686", true},
		{"MCPE;motd;686;1.21.2;many;10", true},
	}
	for _, tt := range tests {
		_, err := parseServerID(tt.id)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseServerID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
		}
	}
}

func TestChatText(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`"A §lbold§r server"`, "A bold server"},
		{`{"text":"a","extra":[{"text":"b","extra":[{"text":"c"}]}]}`, "abc"},
		{`{"extra":["x","y"]}`, "xy"},
		{``, ""},
		{`42`, ""},
	}
	for _, tt := range tests {
		if got := chatText(json.RawMessage(tt.raw)); got != tt.want {
			t.Errorf("chatText(%s) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
