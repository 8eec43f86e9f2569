// Package assets implements the content-addressable asset subsystem.
//
// Assets are small image blobs deduplicated per owner by the SHA-256 of the
// uploaded bytes and stored in a single flat directory as
// {owner}_{hash}.{ext}. The package provides the normalizer, the blob store,
// reference scanning and rewriting over container content, inline data-URI
// persistence, the per-owner quota ledger, and the garbage collector.
package assets
