// Package codec implements the canonical binary encoding used for storage,
// hashing, and wire transfer.
//
// # Layout
//
//   - Fixed-width integers: little-endian
//   - Booleans: one byte, 0 or 1 (anything else fails to decode)
//   - Option[T]: 0x00 for none, 0x01 followed by T
//   - Sequences: u64 little-endian length, then elements
//   - Strings and byte strings: u64 length, then bytes (strings must be UTF-8)
//   - Sum types: u8 discriminant, then the variant payload
//   - Product types: fields in declaration order, no padding
//   - String maps: sequence of (key, value) pairs in key byte order
//
// # Content Hashes
//
// ContentHash encodes a value with every string NFC-normalized and hashes
// the result as SHA256(domain || 0x00 || bytes). The plain encoding used by
// Marshal never rewrites strings, so decode(encode(v)) == v holds byte for
// byte.
//
// All decode failures carry errs.Serialization.
package codec
