package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// fingerprintPrefix marks keys produced by hashing a non-comparable value.
const fingerprintPrefix = "fp:"

// fingerprintMode encodes with RFC 8949 core deterministic rules so that
// equal values always produce equal bytes, regardless of map iteration order.
var fingerprintMode = mustDeterministicMode()

func mustDeterministicMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

// Fingerprint returns a stable string key for v.
// Format: fp:<hash>
// where hash is the first 16 hex characters of SHA-256(deterministic CBOR(v)).
func Fingerprint(v any) (string, error) {
	b, err := fingerprintMode.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return fingerprintPrefix + hex.EncodeToString(sum[:8]), nil
}

// normalizeKey turns a derived value into something usable as a map key.
// Pointers and interfaces are followed so that two pointers to equal values
// give equal keys. Comparable values are used as they are; everything else
// is fingerprinted.
func normalizeKey(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	if !rv.CanInterface() {
		return nil, ErrInvalidKey
	}
	if rv.Comparable() {
		return rv.Interface(), nil
	}
	fp, err := Fingerprint(rv.Interface())
	if err != nil {
		return nil, ErrInvalidKey
	}
	return fp, nil
}

// argsKey is the key of a call whose command declares no key-bearing
// argument: the whole argument list.
func argsKey(args Args) (any, error) {
	switch len(args) {
	case 0:
		return "", nil
	case 1:
		return normalizeKey(args[0].Value)
	}
	values := make([]any, len(args))
	for i, arg := range args {
		values[i] = arg.Value
	}
	fp, err := Fingerprint(values)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return fp, nil
}
