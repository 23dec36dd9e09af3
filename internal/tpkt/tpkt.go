// Package tpkt implements the read-only TPKT/X224 header sniff that
// classifies an incoming RDP connection as a handover client before the
// RDP library ever touches the socket (§4.8). The peek never advances
// the connection's read pointer: every byte it inspects is still there
// for the subsequent full RDP handshake to read again.
package tpkt

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/grd-project/grd/internal/grderr"
)

const (
	tpktVersion = 3
	x224CRCDT   = 0xE0

	// rdpNegReqType is the PDU type byte of an RDP Negotiation Request.
	rdpNegReqType = 0x01
	// protocolRDSTLS is the PROTOCOL_RDSTLS bit of requestedProtocols.
	protocolRDSTLS = 0x00000010

	cookiePrefix = "Cookie: msts="

	// peekBudget bounds the total time spent waiting for a full TPKT PDU
	// to arrive on the wire before giving up (§5 "Cancellation and
	// timeouts").
	peekBudget   = 2 * time.Second
	pollInterval = 10 * time.Millisecond
)

// RoutingTokenInfo is the result of peeking a client's first TPKT PDU.
type RoutingTokenInfo struct {
	RequestedRDSTLS bool
	// RoutingToken is empty when the connection carries no "Cookie:
	// msts=" prefix — the client is not a handover client.
	RoutingToken string
}

type syscallConn interface {
	SyscallConn() (syscall.RawConn, error)
}

// Peek inspects conn's first TPKT/X224 CR PDU without consuming any
// bytes. It returns a typed grderr on malformed framing, timeout, or
// cancellation.
func Peek(ctx context.Context, conn net.Conn) (*RoutingTokenInfo, error) {
	hdr, err := peekExactly(ctx, conn, 4)
	if err != nil {
		return nil, err
	}
	if hdr[0] != tpktVersion {
		return nil, grderr.InvalidArgument("tpkt: unexpected TPKT version %d, want %d", hdr[0], tpktVersion)
	}
	tpktLength := int(binary.BigEndian.Uint16(hdr[2:4]))
	if tpktLength < 11 {
		return nil, grderr.InvalidArgument("tpkt: tpkt_length %d below minimum of 11", tpktLength)
	}

	pdu, err := peekExactly(ctx, conn, tpktLength)
	if err != nil {
		return nil, err
	}

	x224 := pdu[4:]
	lengthIndicator := int(x224[0])
	if lengthIndicator != tpktLength-5 {
		return nil, grderr.InvalidArgument("tpkt: X224 length_indicator %d does not match tpkt_length-5 (%d)", lengthIndicator, tpktLength-5)
	}
	if x224[1] != x224CRCDT {
		return nil, grderr.InvalidArgument("tpkt: not an X224 CR PDU (cr_cdt=0x%02X)", x224[1])
	}
	dstRef := binary.BigEndian.Uint16(x224[2:4])
	if dstRef != 0 {
		return nil, grderr.InvalidArgument("tpkt: X224 CR dst_ref must be zero, got %d", dstRef)
	}
	classOpt := x224[6]
	if classOpt&0xFC != 0 {
		return nil, grderr.InvalidArgument("tpkt: X224 CR class_opt has reserved bits set: 0x%02X", classOpt)
	}

	rest := x224[7:]
	idx := bytes.Index(rest, []byte(cookiePrefix))
	if idx < 0 {
		return &RoutingTokenInfo{}, nil
	}

	afterPrefix := rest[idx+len(cookiePrefix):]
	crlf := bytes.Index(afterPrefix, []byte("\r\n"))
	if crlf < 0 {
		return nil, grderr.InvalidArgument("tpkt: routing token is missing its terminating CRLF")
	}
	info := &RoutingTokenInfo{RoutingToken: string(afterPrefix[:crlf])}

	negReq := afterPrefix[crlf+2:]
	if len(negReq) >= 8 && negReq[0] == rdpNegReqType {
		reqLen := binary.LittleEndian.Uint16(negReq[2:4])
		if reqLen == 8 {
			protocols := binary.LittleEndian.Uint32(negReq[4:8])
			info.RequestedRDSTLS = protocols&protocolRDSTLS != 0
		}
	}
	return info, nil
}

// peekExactly blocks until n bytes are available on conn (or the peek
// budget/ctx expires), returning them via MSG_PEEK so the connection's
// read pointer never advances.
func peekExactly(ctx context.Context, conn net.Conn, n int) ([]byte, error) {
	sc, ok := conn.(syscallConn)
	if !ok {
		return nil, grderr.NotSupported("tpkt: connection does not expose a raw socket to peek")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return nil, grderr.Wrap(grderr.KindFailed, err, "tpkt: obtaining raw connection")
	}

	deadline := time.Now().Add(peekBudget)
	buf := make([]byte, n)

	for {
		if time.Now().After(deadline) {
			return nil, grderr.Cancelled("tpkt: peek budget of %s exceeded waiting for %d bytes", peekBudget, n)
		}
		select {
		case <-ctx.Done():
			return nil, grderr.Cancelled("tpkt: peek cancelled: %v", ctx.Err())
		default:
		}

		var got int
		var recvErr error
		ctrlErr := raw.Read(func(fd uintptr) bool {
			got, _, recvErr = unix.Recvfrom(int(fd), buf, unix.MSG_PEEK)
			return true
		})
		if ctrlErr != nil {
			return nil, grderr.Wrap(grderr.KindFailed, ctrlErr, "tpkt: raw conn read control")
		}
		if recvErr != nil && recvErr != unix.EAGAIN && recvErr != unix.EWOULDBLOCK {
			return nil, grderr.Wrap(grderr.KindFailed, recvErr, "tpkt: recvfrom(MSG_PEEK)")
		}
		if got >= n {
			return buf[:n], nil
		}

		select {
		case <-ctx.Done():
			return nil, grderr.Cancelled("tpkt: peek cancelled: %v", ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}
