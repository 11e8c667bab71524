// Package nodestore provides the paging collaborators that satisfy
// bepsilon.Store: an LRU-cached, object-per-file backing store and an
// alternate backend layered over a Pebble LSM tree. Both encode pages
// with the same wire format defined in this file.
package nodestore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/ssargent/bepsilontree/pkg/bepsilon"
)

// Wire format for one serialized node:
//
//	[CRC32(4)][IsLeaf(1)][Parent(8)][LeftSibling(8)][RightSibling(8)]
//	[HasSubtreeMin(1)][SubtreeMinLen(4)][SubtreeMinBytes]
//	[NumKeys(4)] NumKeys * [KeyLen(4)][KeyBytes]
//	  leaf:     NumKeys * [ValueLen(4)][ValueBytes]
//	  internal: [NumChildren(4)] NumChildren * [ChildHandle(8)]
//	[NumMessages(4)] NumMessages * [Opcode(1)][KeyLen(4)][KeyBytes][ValueLen(4)][ValueBytes]
//
// CRC32 is computed (IEEE polynomial) over every field after it, the same
// way pkg/codec's record format checksums everything but its own field.
func encodeNode(n *bepsilon.Node) []byte {
	var body bytes.Buffer

	writeBool(&body, n.IsLeaf)
	writeUint64(&body, uint64(n.Parent))
	writeUint64(&body, uint64(n.LeftSibling))
	writeUint64(&body, uint64(n.RightSibling))
	writeBytesOrNil(&body, n.SubtreeMinKey)

	writeUint32(&body, uint32(len(n.Keys)))
	for _, k := range n.Keys {
		writeBytes(&body, k)
	}

	if n.IsLeaf {
		for _, v := range n.Values {
			writeBytes(&body, v)
		}
	} else {
		writeUint32(&body, uint32(len(n.Children)))
		for _, c := range n.Children {
			writeUint64(&body, uint64(c))
		}
	}

	writeUint32(&body, uint32(len(n.Buffer)))
	for _, m := range n.Buffer {
		body.WriteByte(byte(m.Opcode))
		writeBytes(&body, m.Key)
		writeBytes(&body, m.Value)
	}

	payload := body.Bytes()
	checksum := crc32.ChecksumIEEE(payload)

	out := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(out[0:4], checksum)
	copy(out[4:], payload)
	return out
}

func decodeNode(data []byte) (*bepsilon.Node, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("node page too short: %d bytes", len(data))
	}
	wantCRC := binary.LittleEndian.Uint32(data[0:4])
	payload := data[4:]
	gotCRC := crc32.ChecksumIEEE(payload)
	if gotCRC != wantCRC {
		return nil, fmt.Errorf("node page checksum mismatch: got %x, want %x", gotCRC, wantCRC)
	}

	r := bytes.NewReader(payload)
	n := &bepsilon.Node{}

	var err error
	if n.IsLeaf, err = readBool(r); err != nil {
		return nil, err
	}
	var h uint64
	if h, err = readUint64(r); err != nil {
		return nil, err
	}
	n.Parent = bepsilon.NodeHandle(h)
	if h, err = readUint64(r); err != nil {
		return nil, err
	}
	n.LeftSibling = bepsilon.NodeHandle(h)
	if h, err = readUint64(r); err != nil {
		return nil, err
	}
	n.RightSibling = bepsilon.NodeHandle(h)
	if n.SubtreeMinKey, err = readBytesOrNil(r); err != nil {
		return nil, err
	}

	numKeys, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	n.Keys = make([][]byte, numKeys)
	for i := range n.Keys {
		if n.Keys[i], err = readBytes(r); err != nil {
			return nil, err
		}
	}

	if n.IsLeaf {
		n.Values = make([][]byte, numKeys)
		for i := range n.Values {
			if n.Values[i], err = readBytes(r); err != nil {
				return nil, err
			}
		}
	} else {
		numChildren, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		n.Children = make([]bepsilon.NodeHandle, numChildren)
		for i := range n.Children {
			if h, err = readUint64(r); err != nil {
				return nil, err
			}
			n.Children[i] = bepsilon.NodeHandle(h)
		}
	}

	numMessages, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	n.Buffer = make([]bepsilon.Message, numMessages)
	for i := range n.Buffer {
		opByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		n.Buffer[i].Opcode = bepsilon.Opcode(opByte)
		if n.Buffer[i].Key, err = readBytes(r); err != nil {
			return nil, err
		}
		if n.Buffer[i].Value, err = readBytes(r); err != nil {
			return nil, err
		}
	}

	return n, nil
}

func writeBool(buf *bytes.Buffer, b bool) {
	if b {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := readFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(tmp[:]), nil
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := readFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(tmp[:]), nil
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []byte{}, nil
	}
	out := make([]byte, n)
	if _, err := readFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// writeBytesOrNil distinguishes a nil key (never set) from an empty one.
func writeBytesOrNil(buf *bytes.Buffer, b []byte) {
	if b == nil {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	writeBytes(buf, b)
}

func readBytesOrNil(r *bytes.Reader) ([]byte, error) {
	present, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	return readBytes(r)
}

func readFull(r *bytes.Reader, out []byte) (int, error) {
	n, err := r.Read(out)
	if err == nil && n < len(out) {
		err = fmt.Errorf("short read: got %d of %d bytes", n, len(out))
	}
	return n, err
}
