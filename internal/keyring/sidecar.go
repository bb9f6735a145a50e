package keyring

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	cryptoDomain "github.com/evfsdb/evfs/internal/crypto/domain"
)

// sidecarMagic identifies the file format; sidecarVersion allows the layout
// to evolve without breaking readers of the current version.
var sidecarMagic = [4]byte{'E', 'V', 'K', 'R'}

const sidecarVersion = uint8(1)

// SidecarPathFor derives the sidecar path for a database file by replacing
// its extension with ext (e.g. ".evfs-keyring").
func SidecarPathFor(dbPath, ext string) string {
	trimmed := strings.TrimSuffix(dbPath, filepath.Ext(dbPath))
	return trimmed + ext
}

// encodeSidecar serializes entries in a length-prefixed binary layout:
//
//	magic(4) | version(1) | count(uint32 LE)
//	for each entry, in the order of the entries slice (callers pass a
//	slice already in their preferred deterministic order):
//	  scope_len(uint16 LE) | scope (UTF-8)
//	  kek_id_len(uint16 LE) | kek_id (UTF-8)
//	  nonce_len(uint16 LE) | nonce
//	  ciphertext_len(uint32 LE) | ciphertext
//	  algorithm_len(uint8) | algorithm (UTF-8)
func encodeSidecar(entries []cryptoDomain.WrappedDek) []byte {
	var buf bytes.Buffer
	buf.Write(sidecarMagic[:])
	buf.WriteByte(sidecarVersion)

	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(entries)))
	buf.Write(count[:])

	for _, e := range entries {
		writeLenPrefixed16(&buf, []byte(e.Scope.String()))
		writeLenPrefixed16(&buf, []byte(e.KekID))
		writeLenPrefixed16(&buf, e.Nonce)
		writeLenPrefixed32(&buf, e.Ciphertext)
		alg := string(e.Algorithm)
		buf.WriteByte(byte(len(alg)))
		buf.WriteString(alg)
	}

	return buf.Bytes()
}

func writeLenPrefixed16(buf *bytes.Buffer, b []byte) {
	var lenBytes [2]byte
	binary.LittleEndian.PutUint16(lenBytes[:], uint16(len(b)))
	buf.Write(lenBytes[:])
	buf.Write(b)
}

func writeLenPrefixed32(buf *bytes.Buffer, b []byte) {
	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(b)))
	buf.Write(lenBytes[:])
	buf.Write(b)
}

// decodeSidecar parses the layout written by encodeSidecar. Parse errors
// are returned to the caller, which per spec treats them as a non-fatal
// "empty sidecar" condition and logs a warning rather than failing the
// keyring bind.
func decodeSidecar(data []byte) ([]cryptoDomain.WrappedDek, error) {
	r := bytes.NewReader(data)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated header", cryptoDomain.ErrFormatFailure)
	}
	if magic != sidecarMagic {
		return nil, fmt.Errorf("%w: bad magic", cryptoDomain.ErrFormatFailure)
	}

	version, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated version", cryptoDomain.ErrFormatFailure)
	}
	if version != sidecarVersion {
		return nil, fmt.Errorf("%w: unsupported sidecar version %d", cryptoDomain.ErrFormatFailure, version)
	}

	var countBytes [4]byte
	if _, err := io.ReadFull(r, countBytes[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated count", cryptoDomain.ErrFormatFailure)
	}
	count := binary.LittleEndian.Uint32(countBytes[:])

	entries := make([]cryptoDomain.WrappedDek, 0, count)
	for i := uint32(0); i < count; i++ {
		scopeStr, err := readLenPrefixed16(r)
		if err != nil {
			return nil, err
		}
		scope, ok := cryptoDomain.ParseScope(string(scopeStr))
		if !ok {
			return nil, fmt.Errorf("%w: invalid scope %q", cryptoDomain.ErrFormatFailure, scopeStr)
		}

		kekID, err := readLenPrefixed16(r)
		if err != nil {
			return nil, err
		}
		nonce, err := readLenPrefixed16(r)
		if err != nil {
			return nil, err
		}
		ciphertext, err := readLenPrefixed32(r)
		if err != nil {
			return nil, err
		}
		algLen, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: truncated algorithm length", cryptoDomain.ErrFormatFailure)
		}
		alg := make([]byte, algLen)
		if _, err := io.ReadFull(r, alg); err != nil {
			return nil, fmt.Errorf("%w: truncated algorithm", cryptoDomain.ErrFormatFailure)
		}

		entries = append(entries, cryptoDomain.WrappedDek{
			Scope:      scope,
			Ciphertext: ciphertext,
			Nonce:      nonce,
			KekID:      string(kekID),
			Algorithm:  cryptoDomain.Algorithm(alg),
		})
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: trailing bytes after last entry", cryptoDomain.ErrFormatFailure)
	}

	return entries, nil
}

func readLenPrefixed16(r *bytes.Reader) ([]byte, error) {
	var lenBytes [2]byte
	if _, err := io.ReadFull(r, lenBytes[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated length prefix", cryptoDomain.ErrFormatFailure)
	}
	n := binary.LittleEndian.Uint16(lenBytes[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("%w: truncated field", cryptoDomain.ErrFormatFailure)
	}
	return b, nil
}

func readLenPrefixed32(r *bytes.Reader) ([]byte, error) {
	var lenBytes [4]byte
	if _, err := io.ReadFull(r, lenBytes[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated length prefix", cryptoDomain.ErrFormatFailure)
	}
	n := binary.LittleEndian.Uint32(lenBytes[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("%w: truncated field", cryptoDomain.ErrFormatFailure)
	}
	return b, nil
}

// writeSidecarFile durably writes data to path via write-to-temp-then-rename,
// so a crash mid-write never leaves a half-written sidecar in place.
func writeSidecarFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp sidecar: %v", cryptoDomain.ErrPersistenceFailure, err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write temp sidecar: %v", cryptoDomain.ErrPersistenceFailure, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: sync temp sidecar: %v", cryptoDomain.ErrPersistenceFailure, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp sidecar: %v", cryptoDomain.ErrPersistenceFailure, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: rename temp sidecar: %v", cryptoDomain.ErrPersistenceFailure, err)
	}
	return nil
}

// readSidecarFile reads and parses the sidecar at path. A missing file is
// treated as an empty sidecar, not an error; a parse error is likewise
// treated as empty per spec (the caller logs a warning).
func readSidecarFile(path string) ([]cryptoDomain.WrappedDek, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: read sidecar: %v", cryptoDomain.ErrPersistenceFailure, err)
	}

	entries, err := decodeSidecar(data)
	if err != nil {
		return nil, true, err
	}
	return entries, true, nil
}
