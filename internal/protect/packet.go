package protect

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrMalformedPacket is returned for update packets that cannot be decoded
var ErrMalformedPacket = errors.New("malformed update packet")

const headerSize = 8

// maxInflated caps the size of a decompressed frame body
const maxInflated = 4 << 20

// Frame kinds
const (
	FrameAction  byte = 1
	FramePayload byte = 2
)

// Payload formats
const (
	FormatJSON   byte = 1
	FormatUTF8   byte = 2
	FormatBuffer byte = 3
)

// Packet is one update message: an action frame describing what changed and
// a data frame carrying the changed fields. Both are loosely typed.
type Packet struct {
	Action map[string]interface{}
	Data   map[string]interface{}

	// Raw holds the data frame body when it is not JSON
	Raw []byte
}

// ActionName is the change verb, e.g. "add" or "update"
func (p *Packet) ActionName() string { return stringField(p.Action, "action") }

// ModelKey is the kind of object that changed, e.g. "event" or "camera"
func (p *Packet) ModelKey() string { return stringField(p.Action, "modelKey") }

// ID is the id of the changed object
func (p *Packet) ID() string { return stringField(p.Action, "id") }

// NewUpdateID is the cursor to resume the updates stream from
func (p *Packet) NewUpdateID() string { return stringField(p.Action, "newUpdateId") }

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

type frame struct {
	kind   byte
	format byte
	body   []byte
}

// DecodePacket parses a binary update message. Each of the two frames has an
// 8 byte header: kind, payload format, deflated flag, a reserved byte and the
// big-endian body size.
func DecodePacket(data []byte) (*Packet, error) {
	action, rest, err := readFrame(data)
	if err != nil {
		return nil, fmt.Errorf("action frame: %w", err)
	}
	if action.kind != FrameAction || action.format != FormatJSON {
		return nil, fmt.Errorf("%w: unexpected action frame kind=%d format=%d", ErrMalformedPacket, action.kind, action.format)
	}
	payload, rest, err := readFrame(rest)
	if err != nil {
		return nil, fmt.Errorf("data frame: %w", err)
	}
	if payload.kind != FramePayload {
		return nil, fmt.Errorf("%w: unexpected data frame kind=%d", ErrMalformedPacket, payload.kind)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedPacket, len(rest))
	}

	pkt := &Packet{}
	if err := json.Unmarshal(action.body, &pkt.Action); err != nil {
		return nil, fmt.Errorf("%w: action frame: %v", ErrMalformedPacket, err)
	}
	if payload.format == FormatJSON {
		if err := json.Unmarshal(payload.body, &pkt.Data); err != nil {
			return nil, fmt.Errorf("%w: data frame: %v", ErrMalformedPacket, err)
		}
	} else {
		pkt.Raw = payload.body
	}
	return pkt, nil
}

func readFrame(b []byte) (frame, []byte, error) {
	if len(b) < headerSize {
		return frame{}, nil, fmt.Errorf("%w: short header (%d bytes)", ErrMalformedPacket, len(b))
	}
	size := binary.BigEndian.Uint32(b[4:headerSize])
	if uint64(len(b)-headerSize) < uint64(size) {
		return frame{}, nil, fmt.Errorf("%w: body truncated: want %d have %d", ErrMalformedPacket, size, len(b)-headerSize)
	}
	f := frame{kind: b[0], format: b[1]}
	body := b[headerSize : headerSize+int(size)]
	if b[2] == 1 {
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return frame{}, nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
		}
		inflated, err := io.ReadAll(io.LimitReader(zr, maxInflated+1))
		_ = zr.Close()
		if err != nil {
			return frame{}, nil, fmt.Errorf("%w: inflate: %v", ErrMalformedPacket, err)
		}
		if len(inflated) > maxInflated {
			return frame{}, nil, fmt.Errorf("%w: inflated body exceeds %d bytes", ErrMalformedPacket, maxInflated)
		}
		body = inflated
	}
	f.body = body
	return f, b[headerSize+int(size):], nil
}

// EncodePacket builds a binary update message with JSON action and data
// frames, optionally deflating both bodies.
func EncodePacket(action, data map[string]interface{}, deflate bool) ([]byte, error) {
	var buf bytes.Buffer
	for _, part := range []struct {
		kind byte
		v    map[string]interface{}
	}{{FrameAction, action}, {FramePayload, data}} {
		body, err := json.Marshal(part.v)
		if err != nil {
			return nil, err
		}
		var flag byte
		if deflate {
			var zb bytes.Buffer
			zw := zlib.NewWriter(&zb)
			if _, err := zw.Write(body); err != nil {
				return nil, err
			}
			if err := zw.Close(); err != nil {
				return nil, err
			}
			body = zb.Bytes()
			flag = 1
		}
		header := [headerSize]byte{part.kind, FormatJSON, flag, 0}
		binary.BigEndian.PutUint32(header[4:], uint32(len(body)))
		buf.Write(header[:])
		buf.Write(body)
	}
	return buf.Bytes(), nil
}
