// Package wire implements the byte-exact client/server record layouts
// described in the protocol table: fixed-width ASCII records exchanged
// over the rendezvous FIFO and per-session request/response/notification
// FIFOs. Every record is small enough to be written atomically by the
// FIFO semantics the server relies on (well under PIPE_BUF).
package wire

import (
	"bytes"
	"fmt"
)

// PathFieldSize is the padded width of a FIFO path field in a CONNECT record.
const PathFieldSize = 40

// KeySize is the padded width of a key field.
const KeySize = 40

// ValueSize is the padded width of a value field in a notification record.
const ValueSize = 40

// Op identifies a client->server request.
type Op byte

const (
	OpConnect     Op = '1'
	OpDisconnect  Op = '2'
	OpSubscribe   Op = '3'
	OpUnsubscribe Op = '4'
)

// Status is the server's one-byte verdict in a reply record.
type Status byte

const (
	StatusOK    Status = '0'
	StatusError Status = '1'
)

// Tombstone is the padded value a notification carries for a delete.
const Tombstone = "DELETED"

// ConnectRecordSize is 1 (op) + 3*40 (paths) = 121 bytes, per spec.
const ConnectRecordSize = 1 + 3*PathFieldSize

// ReplyRecordSize is op_echo + status.
const ReplyRecordSize = 2

// SubRecordSize is op + 40-byte key (SUBSCRIBE/UNSUBSCRIBE).
const SubRecordSize = 1 + KeySize

// DisconnectRecordSize is the single op byte.
const DisconnectRecordSize = 1

// NotificationRecordSize is 40-byte key + 40-byte value.
const NotificationRecordSize = KeySize + ValueSize

// padField right-pads s with spaces to width n, truncating if s is longer.
func padField(s string, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	copy(b, s)
	if len(s) > n {
		copy(b, s[:n])
	}
	return b
}

// unpadField strips trailing spaces from a fixed-width field.
func unpadField(b []byte) string {
	return string(bytes.TrimRight(b, " "))
}

// ConnectRecord is the CONNECT message a client sends on the rendezvous FIFO.
type ConnectRecord struct {
	ReqPath   string
	RespPath  string
	NotifPath string
}

// Encode renders c as the 121-byte on-wire record.
func (c ConnectRecord) Encode() []byte {
	buf := make([]byte, 0, ConnectRecordSize)
	buf = append(buf, byte(OpConnect))
	buf = append(buf, padField(c.ReqPath, PathFieldSize)...)
	buf = append(buf, padField(c.RespPath, PathFieldSize)...)
	buf = append(buf, padField(c.NotifPath, PathFieldSize)...)
	return buf
}

// DecodeConnectRecord parses a 121-byte CONNECT record.
func DecodeConnectRecord(b []byte) (ConnectRecord, error) {
	if len(b) != ConnectRecordSize {
		return ConnectRecord{}, fmt.Errorf("wire: connect record must be %d bytes, got %d", ConnectRecordSize, len(b))
	}
	if Op(b[0]) != OpConnect {
		return ConnectRecord{}, fmt.Errorf("wire: expected op %q, got %q", OpConnect, b[0])
	}
	off := 1
	req := unpadField(b[off : off+PathFieldSize])
	off += PathFieldSize
	resp := unpadField(b[off : off+PathFieldSize])
	off += PathFieldSize
	notif := unpadField(b[off : off+PathFieldSize])
	return ConnectRecord{ReqPath: req, RespPath: resp, NotifPath: notif}, nil
}

// Request is a decoded client->server request read from a session's req FIFO.
type Request struct {
	Op  Op
	Key string // only meaningful for SUBSCRIBE/UNSUBSCRIBE
}

// DecodeRequest parses a DISCONNECT (1 byte) or SUBSCRIBE/UNSUBSCRIBE (41 byte) record.
func DecodeRequest(b []byte) (Request, error) {
	if len(b) == 0 {
		return Request{}, fmt.Errorf("wire: empty request")
	}
	op := Op(b[0])
	switch op {
	case OpDisconnect:
		if len(b) != DisconnectRecordSize {
			return Request{}, fmt.Errorf("wire: disconnect record must be %d bytes, got %d", DisconnectRecordSize, len(b))
		}
		return Request{Op: op}, nil
	case OpSubscribe, OpUnsubscribe:
		if len(b) != SubRecordSize {
			return Request{}, fmt.Errorf("wire: sub/unsub record must be %d bytes, got %d", SubRecordSize, len(b))
		}
		return Request{Op: op, Key: unpadField(b[1 : 1+KeySize])}, nil
	default:
		return Request{}, fmt.Errorf("wire: unknown op %q", b[0])
	}
}

// EncodeRequest renders a request back to wire form (used by tests and any
// in-process request construction).
func EncodeRequest(r Request) []byte {
	switch r.Op {
	case OpDisconnect:
		return []byte{byte(OpDisconnect)}
	case OpSubscribe, OpUnsubscribe:
		buf := make([]byte, 0, SubRecordSize)
		buf = append(buf, byte(r.Op))
		buf = append(buf, padField(r.Key, KeySize)...)
		return buf
	default:
		return nil
	}
}

// Reply is the 2-byte server->client response record.
type Reply struct {
	OpEcho Op
	Status Status
}

// Encode renders r as its 2-byte wire form.
func (r Reply) Encode() []byte {
	return []byte{byte(r.OpEcho), byte(r.Status)}
}

// DecodeReply parses a 2-byte reply record.
func DecodeReply(b []byte) (Reply, error) {
	if len(b) != ReplyRecordSize {
		return Reply{}, fmt.Errorf("wire: reply record must be %d bytes, got %d", ReplyRecordSize, len(b))
	}
	return Reply{OpEcho: Op(b[0]), Status: Status(b[1])}, nil
}

// Notification is the 80-byte (key,value) record the Notifier writes to a
// session's notification FIFO. A Tombstone value signals a delete.
type Notification struct {
	Key   string
	Value string // Tombstone for a delete
}

// Encode renders n as its 80-byte wire form.
func (n Notification) Encode() []byte {
	buf := make([]byte, 0, NotificationRecordSize)
	buf = append(buf, padField(n.Key, KeySize)...)
	buf = append(buf, padField(n.Value, ValueSize)...)
	return buf
}

// DecodeNotification parses an 80-byte notification record.
func DecodeNotification(b []byte) (Notification, error) {
	if len(b) != NotificationRecordSize {
		return Notification{}, fmt.Errorf("wire: notification record must be %d bytes, got %d", NotificationRecordSize, len(b))
	}
	return Notification{
		Key:   unpadField(b[:KeySize]),
		Value: unpadField(b[KeySize:]),
	}, nil
}

// IsDeleted reports whether n represents a tombstone.
func (n Notification) IsDeleted() bool {
	return n.Value == Tombstone
}
