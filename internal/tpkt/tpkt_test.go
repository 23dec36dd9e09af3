package tpkt

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"
)

// buildPDU assembles a TPKT/X224 CR PDU carrying the given routing
// token and requestedProtocols, mirroring the byte layout Peek parses.
func buildPDU(t *testing.T, token string, requestedProtocols uint32) []byte {
	t.Helper()

	negReq := make([]byte, 8)
	negReq[0] = rdpNegReqType
	negReq[1] = 0 // flags
	binary.LittleEndian.PutUint16(negReq[2:4], 8)
	binary.LittleEndian.PutUint32(negReq[4:8], requestedProtocols)

	variable := append([]byte("Cookie: msts="+token+"\r\n"), negReq...)

	li := 6 + len(variable)
	tpktLength := li + 5

	x224 := make([]byte, 0, 7+len(variable))
	x224 = append(x224, byte(li), x224CRCDT, 0, 0, 0, 0, 0)
	x224 = append(x224, variable...)

	pdu := make([]byte, 0, tpktLength)
	pdu = append(pdu, tpktVersion, 0)
	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(tpktLength))
	pdu = append(pdu, lenBuf...)
	pdu = append(pdu, x224...)

	if len(pdu) != tpktLength {
		t.Fatalf("built PDU length %d, want %d", len(pdu), tpktLength)
	}
	return pdu
}

// loopbackPair returns a connected client/server TCP pair so the peek
// path exercises a real SyscallConn, not net.Pipe (which doesn't expose
// one).
func loopbackPair(t *testing.T) (server, client net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		acceptCh <- c
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	select {
	case server = <-acceptCh:
	case err := <-errCh:
		t.Fatalf("accept: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept")
	}
	return server, client
}

func TestPeekExtractsRoutingTokenAndRDSTLS(t *testing.T) {
	server, client := loopbackPair(t)
	defer server.Close()
	defer client.Close()

	pdu := buildPDU(t, "17", protocolRDSTLS)
	if _, err := client.Write(pdu); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	info, err := Peek(ctx, server)
	if err != nil {
		t.Fatalf("Peek() error: %v", err)
	}
	if info.RoutingToken != "17" {
		t.Fatalf("RoutingToken = %q, want %q", info.RoutingToken, "17")
	}
	if !info.RequestedRDSTLS {
		t.Fatal("RequestedRDSTLS = false, want true")
	}
}

func TestPeekDoesNotConsumeBytes(t *testing.T) {
	server, client := loopbackPair(t)
	defer server.Close()
	defer client.Close()

	pdu := buildPDU(t, "42", 0)
	if _, err := client.Write(pdu); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := Peek(ctx, server); err != nil {
		t.Fatalf("Peek() error: %v", err)
	}

	readBack := make([]byte, len(pdu))
	if _, err := io.ReadFull(server, readBack); err != nil {
		t.Fatalf("full read after peek: %v", err)
	}
	for i := range pdu {
		if readBack[i] != pdu[i] {
			t.Fatalf("byte %d differs after peek: got 0x%02X, want 0x%02X", i, readBack[i], pdu[i])
		}
	}
}

func TestPeekNoCookiePrefixReturnsEmptyToken(t *testing.T) {
	server, client := loopbackPair(t)
	defer server.Close()
	defer client.Close()

	// X224 CR with no variable data at all: a non-handover client.
	li := 6
	tpktLength := li + 5
	pdu := []byte{tpktVersion, 0, 0, byte(tpktLength), byte(li), x224CRCDT, 0, 0, 0, 0, 0}
	if _, err := client.Write(pdu); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	info, err := Peek(ctx, server)
	if err != nil {
		t.Fatalf("Peek() error: %v", err)
	}
	if info.RoutingToken != "" {
		t.Fatalf("RoutingToken = %q, want empty for non-handover client", info.RoutingToken)
	}
}

func TestPeekRejectsWrongVersion(t *testing.T) {
	server, client := loopbackPair(t)
	defer server.Close()
	defer client.Close()

	if _, err := client.Write([]byte{9, 0, 0, 11, 0, 0, 0, 0, 0, 0, 0}); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := Peek(ctx, server); err == nil {
		t.Fatal("expected error for wrong TPKT version")
	}
}
