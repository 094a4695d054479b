package esm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Control frame type tags, per the client wire protocol.
const (
	ctrlIdentify = "id" // server solicits / client reports server_id
	ctrlInit     = "i"  // server solicits the first encrypted Init message
	ctrlMessage  = "m"  // an AEAD-wrapped Message packet
)

// byteArray marshals as a JSON array of byte values (e.g. [1,2,3]) rather
// than Go's default base64 string encoding, matching the "bytes-as-array"
// wire shape of the control frame's "c" field.
type byteArray []byte

func (b byteArray) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range b {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Itoa(int(v)))
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (b *byteArray) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return fmt.Errorf("decode byte array: %w", err)
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("byte array element %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// controlFrame is the outer plaintext envelope carried by each length-framed
// TCP frame.
type controlFrame struct {
	T string    `json:"t"`
	C byteArray `json:"c"`
}

func encodeControlFrame(t string, c []byte) ([]byte, error) {
	return json.Marshal(controlFrame{T: t, C: c})
}

func decodeControlFrame(b []byte) (controlFrame, error) {
	var f controlFrame
	if err := json.Unmarshal(b, &f); err != nil {
		return controlFrame{}, fmt.Errorf("%w: %v", ErrDeserialize, err)
	}
	return f, nil
}
