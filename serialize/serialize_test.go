package serialize_test

import (
	"bytes"
	"context"
	"encoding/gob"
	"sync"
	"testing"

	"github.com/netcore-run/netcore/device"
	"github.com/netcore-run/netcore/registry"
	"github.com/netcore-run/netcore/serialize"
	"github.com/netcore-run/netcore/tensor"
	"github.com/netcore-run/netcore/workspace"
)

// memDB is an in-memory serialize.DB used as a test double for a real
// key-value engine; ordering of Cursor.Next follows insertion order so
// tests are deterministic.
type memDB struct {
	mu   sync.Mutex
	keys []string
	vals map[string][]byte
}

func newMemDB() *memDB { return &memDB{vals: map[string][]byte{}} }

func (d *memDB) NewCursor() (serialize.Cursor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := append([]string(nil), d.keys...)
	return &memCursor{db: d, keys: keys}, nil
}

func (d *memDB) NewTransaction() (serialize.Transaction, error) {
	return &memTxn{db: d, writes: map[string][]byte{}}, nil
}

func (d *memDB) Close() error { return nil }

type memCursor struct {
	db  *memDB
	keys []string
	pos int
}

func (c *memCursor) Next() (string, []byte, bool, error) {
	if c.pos >= len(c.keys) {
		return "", nil, false, nil
	}
	k := c.keys[c.pos]
	c.pos++
	c.db.mu.Lock()
	v := c.db.vals[k]
	c.db.mu.Unlock()
	return k, v, true, nil
}

type memTxn struct {
	db     *memDB
	writes map[string][]byte
}

func (t *memTxn) Put(key string, value []byte) error {
	t.writes[key] = append([]byte(nil), value...)
	return nil
}

func (t *memTxn) Commit() error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	for k, v := range t.writes {
		if _, exists := t.db.vals[k]; !exists {
			t.db.keys = append(t.db.keys, k)
		}
		t.db.vals[k] = v
	}
	return nil
}

func (t *memTxn) Rollback() error {
	t.writes = map[string][]byte{}
	return nil
}

type memStore struct {
	mu sync.Mutex
	dbs map[string]*memDB
}

func newMemStore() *memStore { return &memStore{dbs: map[string]*memDB{}} }

func (s *memStore) Open(path string, mode serialize.Mode) (serialize.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mode == serialize.New {
		db := newMemDB()
		s.dbs[path] = db
		return db, nil
	}
	db, ok := s.dbs[path]
	if !ok {
		db = newMemDB()
		s.dbs[path] = db
	}
	return db, nil
}

func newCodecs(t *testing.T) *serialize.Codecs {
	t.Helper()
	c := registry.New[serialize.Codec]()
	if err := c.Register(serialize.TensorMeta.Name, serialize.TensorCodec); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ws := workspace.New(nil, nil)
	x := tensor.New(tensor.Float32, []int64{2, 2}, device.CPUOption)
	copy(x.Bytes(), []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})
	ws.CreateBlob("weights").Set(serialize.TensorMeta, x)

	codecs := newCodecs(t)
	store := newMemStore()

	if err := serialize.Checkpoint(context.Background(), store, ws, nil, "ckpt_%d", 1, 5, codecs, nil); err != nil {
		t.Fatal(err)
	}

	db, err := store.Open("ckpt_5", serialize.ReadOnly)
	if err != nil {
		t.Fatal(err)
	}
	cur, err := db.NewCursor()
	if err != nil {
		t.Fatal(err)
	}
	ws2 := workspace.New(nil, nil)
	if err := serialize.Load(cur, ws2, codecs, true, device.Option{}); err != nil {
		t.Fatal(err)
	}
	b, ok := ws2.GetBlob("weights")
	if !ok {
		t.Fatal("weights blob missing after load")
	}
	v, err := b.Get(serialize.TensorMeta)
	if err != nil {
		t.Fatal(err)
	}
	got := v.(*tensor.Tensor)
	if got.Dim(0) != 2 || got.Dim(1) != 2 {
		t.Fatalf("got shape %v, want [2 2]", got.Shape())
	}
	if string(got.Bytes()) != string(x.Bytes()) {
		t.Fatalf("round-tripped bytes differ: got %v, want %v", got.Bytes(), x.Bytes())
	}
}

func TestCheckpointSkipsOffInterval(t *testing.T) {
	ws := workspace.New(nil, nil)
	ws.CreateBlob("w").Set(serialize.TensorMeta, tensor.New(tensor.Float32, []int64{1}, device.CPUOption))
	codecs := newCodecs(t)
	store := newMemStore()

	if err := serialize.Checkpoint(context.Background(), store, ws, nil, "ckpt_%d", 5, 3, codecs, nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.dbs["ckpt_3"]; ok {
		t.Error("expected no checkpoint db to be created off the interval")
	}
}

// fakeChunk mirrors serialize's unexported wireChunk field-for-field:
// encoding/gob matches by field name, not by type identity, so
// encoding this local type produces bytes decodeChunk can read.
type fakeChunk struct {
	Name      string
	TypeName  string
	ChunkID   int
	TotalSize int64
	Data      []byte
}

func TestLoadDataSizeMismatch(t *testing.T) {
	db := newMemDB()
	tx, _ := db.NewTransaction()
	// A record that declares a larger total size than the bytes it
	// actually carries, simulating a truncated write.
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(fakeChunk{
		Name: "w", TypeName: serialize.TensorMeta.Name, ChunkID: 0, TotalSize: 100, Data: []byte{1, 2, 3, 4},
	}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Put("w", buf.Bytes()); err != nil {
		t.Fatal(err)
	}
	_ = tx.Commit()

	cur, _ := db.NewCursor()
	ws := workspace.New(nil, nil)
	codecs := newCodecs(t)
	if err := serialize.Load(cur, ws, codecs, true, device.Option{}); err == nil {
		t.Error("expected a data size mismatch error")
	}
}
