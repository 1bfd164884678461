package serialize

import (
	"context"
	"fmt"
	"regexp"

	"github.com/netcore-run/netcore/errors"
	"github.com/netcore-run/netcore/registry"
)

// Codecs is the process-wide payload-type registry Save and Load
// consult, keyed by blob.TypeMeta.Name.
type Codecs = registry.Registry[Codec]

// StripRegex returns a rename function that deletes every match of
// pattern from a blob's name before it becomes a storage key, the
// "regex strip on output names" Save applies (SaveOp's strip_regex_
// argument). A nil pattern is the identity rename.
func StripRegex(pattern *regexp.Regexp) func(name string) string {
	if pattern == nil {
		return func(name string) string { return name }
	}
	return func(name string) string { return pattern.ReplaceAllString(name, "") }
}

// Save streams each of names' blobs (every locally-owned blob, if
// names is nil) through its registered codec, applying rename to each
// blob's storage key and writing every emitted chunk through its own
// one-shot Transaction against db, mirroring SaveOp's acceptor
// (each call opens a transaction, puts, and commits immediately).
func Save(ctx context.Context, db DB, ws BlobStore, names []string, codecs *Codecs, rename func(name string) string) error {
	if names == nil {
		names = ws.LocalBlobs()
	}
	if rename == nil {
		rename = StripRegex(nil)
	}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		key := rename(name)
		if seen[key] {
			return errors.E("serialize.Save", key, errors.NotAllowed,
				errors.New("duplicate output name after rename"))
		}
		seen[key] = true
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, ok := ws.GetBlob(name)
		if !ok {
			return errors.E("serialize.Save", name, errors.NotFound, errors.New("blob does not exist"))
		}
		meta := b.Meta()
		if meta == nil {
			continue
		}
		codec, ok := codecs.Create(meta.Name)
		if !ok {
			return errors.E("serialize.Save", name, errors.NotSupported,
				errors.New("no codec registered for type "+meta.Name))
		}
		value, err := b.Get(meta)
		if err != nil {
			return errors.E("serialize.Save", name, err)
		}
		outName := rename(name)
		emit := func(key string, data []byte) error {
			tx, err := db.NewTransaction()
			if err != nil {
				return errors.E("serialize.Save", key, err)
			}
			if err := tx.Put(key, data); err != nil {
				_ = tx.Rollback()
				return errors.E("serialize.Save", key, err)
			}
			return tx.Commit()
		}
		if err := codec.Serialize(value, outName, emit); err != nil {
			return errors.E("serialize.Save", name, err)
		}
	}
	return nil
}

// Checkpoint wraps Save with a name-pattern formatter parameterized by
// an iteration counter: dbPattern is a fmt.Sprintf pattern (e.g.
// "checkpoint_%08d.db") formatted with iter to produce the database
// path, and the checkpoint is skipped entirely unless iter is a
// multiple of every, matching CheckpointOp's "every" throttle.
func Checkpoint(ctx context.Context, store Store, ws BlobStore, names []string, dbPattern string, every, iter int64, codecs *Codecs, rename func(name string) string) error {
	if every <= 0 {
		return errors.E("serialize.Checkpoint", errors.Invalid, errors.New("checkpoint interval must be positive"))
	}
	if iter%every != 0 {
		return nil
	}
	path := fmt.Sprintf(dbPattern, iter)
	db, err := store.Open(path, New)
	if err != nil {
		return errors.E("serialize.Checkpoint", path, err)
	}
	defer db.Close()
	if err := Save(ctx, db, ws, names, codecs, rename); err != nil {
		return errors.E("serialize.Checkpoint", path, err)
	}
	return nil
}
