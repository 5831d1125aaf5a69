// Package output encodes results deterministically.
//
// Identical values always produce byte-identical JSON: object keys are sorted,
// floats are rounded to six decimal places, and nil or empty values are
// omitted. Snapshot checksums and CLI output both depend on this.
//
// Values implementing json.Marshaler (time.Time, for instance) are encoded by
// their own marshaler and embedded as-is.
package output
