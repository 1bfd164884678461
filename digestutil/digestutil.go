// Package digestutil provides the stable content-digest primitives used
// throughout netcore to identify TypeMeta ids and compute chain cache
// keys. It is a thin convenience layer over
// github.com/grailbio/base/digest, mirroring the package-level
// Digester/Universe globals used by the flow package it is modeled on.
package digestutil

import (
	"crypto"
	_ "crypto/sha256"
	"io"

	"github.com/grailbio/base/digest"
)

// Digester is the hash algorithm used for all stable identifiers in
// netcore: type ids and chain cache keys.
var Digester = digest.Digester(crypto.SHA256)

// Digest is an alias for the underlying digest type, re-exported so
// callers need not import github.com/grailbio/base/digest directly.
type Digest = digest.Digest

// Of computes the digest of a single byte slice.
func Of(b []byte) Digest {
	w := Digester.NewWriter()
	_, _ = w.Write(b)
	return w.Digest()
}

// OfStrings computes a stable digest over an ordered sequence of
// strings, each followed by a zero byte; TypeMeta ids and chain cache
// keys are built with it.
func OfStrings(ss ...string) Digest {
	w := Digester.NewWriter()
	for _, s := range ss {
		_, _ = io.WriteString(w, s)
		_, _ = w.Write([]byte{0})
	}
	return w.Digest()
}

// Combine folds a sequence of digests into one by hashing their string
// forms in order.
func Combine(ds ...Digest) Digest {
	w := Digester.NewWriter()
	for _, d := range ds {
		_, _ = io.WriteString(w, d.String())
	}
	return w.Digest()
}
