package serialize

import (
	"strconv"
	"strings"

	"github.com/netcore-run/netcore/device"
	"github.com/netcore-run/netcore/errors"
)

// baseKey splits a storage key on the last ChunkIDSeparator into a
// base blob name and chunk id, mirroring extractFrom's
// dbKey.substr(0, dbKey.find(kChunkIdSeparator)). Since a blob name
// may itself contain ':' (dataset field names do), only a trailing
// segment that parses as a non-negative integer is treated as a chunk
// id; otherwise the whole key is the base name.
func baseKey(key string) (name string, chunkID int, chunked bool) {
	i := strings.LastIndex(key, ChunkIDSeparator)
	if i < 0 {
		return key, 0, false
	}
	if id, err := strconv.Atoi(key[i+1:]); err == nil && id >= 0 {
		return key[:i], id, true
	}
	return key, 0, false
}

type pendingBlob struct {
	total    int64
	got      int64
	chunks   map[int][]byte
	typeName string
}

// Load walks cur end to end, reassembling each record's chunks (in
// ChunkID order) and deserializing the result through the codec
// registered for the record's declared payload type, resetting and
// overwriting any existing blob of the same name in ws. keepDevice
// selects whether a tensor payload keeps the device recorded at
// serialization time or is rebound to target. Load fails with a
// ShapeMismatch error ("data size mismatch") if any blob's reassembled
// byte count differs from the total size recorded in its chunks.
func Load(cur Cursor, ws BlobStore, codecs *Codecs, keepDevice bool, target device.Option) error {
	pending := make(map[string]*pendingBlob)
	for {
		key, raw, ok, err := cur.Next()
		if err != nil {
			return errors.E("serialize.Load", err)
		}
		if !ok {
			break
		}
		name, _, _ := baseKey(key)
		wc, err := decodeChunk(raw)
		if err != nil {
			return errors.E("serialize.Load", name, err)
		}
		p, ok := pending[name]
		if !ok {
			p = &pendingBlob{total: wc.TotalSize, chunks: make(map[int][]byte), typeName: wc.TypeName}
			pending[name] = p
		}
		if _, dup := p.chunks[wc.ChunkID]; dup {
			return errors.E("serialize.Load", name, errors.NotAllowed,
				errors.New("duplicate chunk id in db"))
		}
		p.chunks[wc.ChunkID] = wc.Data
		p.got += int64(len(wc.Data))
	}

	for name, p := range pending {
		if p.got != p.total {
			return errors.E("serialize.Load", name, errors.ShapeMismatch,
				errors.New("data size mismatch: expected "+strconv.FormatInt(p.total, 10)+
					" bytes, got "+strconv.FormatInt(p.got, 10)))
		}
		full := make([]byte, 0, p.total)
		for i := 0; i < len(p.chunks); i++ {
			c, ok := p.chunks[i]
			if !ok {
				return errors.E("serialize.Load", name, errors.ShapeMismatch,
					errors.New("missing chunk in contiguous range"))
			}
			full = append(full, c...)
		}
		codec, ok := codecs.Create(p.typeName)
		if !ok {
			return errors.E("serialize.Load", name, errors.NotSupported,
				errors.New("no codec registered for type "+p.typeName))
		}
		dev := target
		if keepDevice {
			dev = device.Option{}
		}
		value, err := codec.Deserialize(full, dev)
		if err != nil {
			return errors.E("serialize.Load", name, err)
		}
		if b, ok := ws.GetBlob(name); ok {
			b.Reset()
		}
		ws.CreateBlob(name).Set(codec.Meta, value)
	}
	return nil
}
