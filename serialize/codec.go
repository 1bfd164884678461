package serialize

import (
	"bytes"
	"encoding/gob"

	"github.com/netcore-run/netcore/blob"
	"github.com/netcore-run/netcore/device"
	"github.com/netcore-run/netcore/errors"
	"github.com/netcore-run/netcore/tensor"
)

// ChunkIDSeparator starts the ":<chunk_id>" suffix Save appends to
// every chunk key of a blob that spans more than one chunk (a
// single-chunk blob is keyed by its bare name), and is the separator
// Load splits on to find a record's base blob name, matching Caffe2's
// kChunkIdSeparator.
const ChunkIDSeparator = ":"

// Codec is the per-payload-type blob serialization boundary:
// Serialize streams value's bytes through emit as one or more
// (key, data) chunks; Deserialize parses one reassembled chunk's
// bytes back into a payload value. Meta identifies which Blob values
// this codec applies to.
type Codec struct {
	Meta        *blob.TypeMeta
	Serialize   func(value interface{}, baseName string, emit func(key string, data []byte) error) error
	Deserialize func(data []byte, dev device.Option) (interface{}, error)
}

// wireChunk is the gob-encoded record body Save writes and Load reads:
// enough to identify which blob a chunk belongs to, its position among
// sibling chunks, and the blob's total serialized size so Load can
// detect a short read.
type wireChunk struct {
	Name      string
	TypeName  string
	ChunkID   int
	TotalSize int64
	Data      []byte
}

func encodeChunk(c wireChunk) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return nil, errors.E("serialize.encodeChunk", c.Name, err)
	}
	return buf.Bytes(), nil
}

func decodeChunk(data []byte) (wireChunk, error) {
	var c wireChunk
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&c); err != nil {
		return wireChunk{}, errors.E("serialize.decodeChunk", err)
	}
	return c, nil
}

// TensorMeta identifies tensor.Tensor payloads to the codec registry,
// matching the identity blob.Blob values with this type were stored
// under by the net/workspace/recurrent packages.
var TensorMeta = &blob.TypeMeta{Name: "tensor"}

// DefaultChunkSize bounds how many payload bytes TensorCodec packs
// into a single chunk before splitting, matching Caffe2's chunking of
// large tensors across multiple db records.
const DefaultChunkSize = 64 << 20

type tensorHeader struct {
	DType  tensor.DType
	Shape  []int64
	Device device.Option
}

// TensorCodec is the reference Codec for tensor.Tensor payloads: the
// dtype/shape/device header rides in the first chunk, tensor bytes
// follow, split into DefaultChunkSize pieces for large tensors.
var TensorCodec = Codec{
	Meta: TensorMeta,
	Serialize: func(value interface{}, baseName string, emit func(key string, data []byte) error) error {
		t, ok := value.(*tensor.Tensor)
		if !ok {
			return errors.E("serialize.TensorCodec.Serialize", baseName, errors.TypeMismatch,
				errors.New("value is not a *tensor.Tensor"))
		}
		var hbuf bytes.Buffer
		if err := gob.NewEncoder(&hbuf).Encode(tensorHeader{DType: t.DType(), Shape: t.Shape(), Device: t.Device()}); err != nil {
			return errors.E("serialize.TensorCodec.Serialize", baseName, err)
		}
		payload := append(hbuf.Bytes(), t.Bytes()...)
		total := int64(len(payload))

		numChunks := 1
		if total > 0 {
			numChunks = int((total + DefaultChunkSize - 1) / DefaultChunkSize)
		}
		for i := 0; i < numChunks; i++ {
			start := int64(i) * DefaultChunkSize
			end := start + DefaultChunkSize
			if end > total {
				end = total
			}
			key := baseName
			if numChunks > 1 {
				key = baseName + ChunkIDSeparator + itoa(i)
			}
			data, err := encodeChunk(wireChunk{Name: baseName, TypeName: TensorMeta.Name, ChunkID: i, TotalSize: total, Data: payload[start:end]})
			if err != nil {
				return err
			}
			if err := emit(key, data); err != nil {
				return err
			}
		}
		return nil
	},
	Deserialize: func(data []byte, dev device.Option) (interface{}, error) {
		var hdr tensorHeader
		r := bytes.NewReader(data)
		if err := gob.NewDecoder(r).Decode(&hdr); err != nil {
			return nil, errors.E("serialize.TensorCodec.Deserialize", err)
		}
		rest := data[len(data)-r.Len():]
		target := hdr.Device
		if dev != (device.Option{}) {
			target = dev
		}
		t := tensor.New(hdr.DType, hdr.Shape, target)
		copy(t.Bytes(), rest)
		return t, nil
	},
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}
