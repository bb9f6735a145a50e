// Package codec implements the page-level AEAD codec: encrypting and
// decrypting a single fixed-size database page in place, using a
// deterministic nonce derived from the page number so that repeated writes
// of unchanged page content are idempotent at the byte level.
package codec

import (
	"encoding/binary"
	"fmt"

	cryptoDomain "github.com/evfsdb/evfs/internal/crypto/domain"
	cryptoService "github.com/evfsdb/evfs/internal/crypto/service"
)

// Marker is written into the reserve region of every page this codec has
// encrypted, signalling "this page carries ciphertext" to IsEncryptedPage.
const Marker = "EVFSv1"

const (
	tagSize    = 16
	markerSize = len(Marker)
	// MinReserve is the smallest reserve size that fits tag + marker.
	MinReserve = tagSize + markerSize
)

// nonce derives the deterministic, page-number-keyed nonce required by the
// page codec: le_u32(page_no) || 0^8. The nonce depends only on page_no,
// so rewriting a page with different content under the same DEK reuses
// the (key, nonce) pair, which weakens AES-GCM's confidentiality and
// integrity guarantees for that page.
func nonce(pageNo uint32) []byte {
	n := make([]byte, 12)
	binary.LittleEndian.PutUint32(n[:4], pageNo)
	return n
}

// EncryptPage encrypts page[0:len(page)-R] in place under dek and the nonce
// derived from pageNo, then writes the AEAD tag and the marker into the
// reserve region [len(page)-R : len(page)). Fails if R < MinReserve.
func EncryptPage(cipher cryptoService.ExplicitNonceAEAD, page []byte, pageNo uint32, reserve int) error {
	if reserve < MinReserve {
		return fmt.Errorf("%w: reserve %d is below minimum %d", cryptoDomain.ErrReserveTooSmall, reserve, MinReserve)
	}
	if reserve > len(page) {
		return fmt.Errorf("%w: reserve %d exceeds page size %d", cryptoDomain.ErrFormatFailure, reserve, len(page))
	}

	payloadEnd := len(page) - reserve
	payload := page[:payloadEnd]

	sealed := cipher.SealWithNonce(nonce(pageNo), payload, nil)
	// sealed = ciphertext(len(payload)) || tag(16)
	if len(sealed) != len(payload)+tagSize {
		return fmt.Errorf("%w: unexpected sealed length %d", cryptoDomain.ErrCryptoFailure, len(sealed))
	}

	copy(page[:payloadEnd], sealed[:len(payload)])
	copy(page[payloadEnd:payloadEnd+tagSize], sealed[len(payload):])
	copy(page[payloadEnd+tagSize:payloadEnd+tagSize+markerSize], Marker)

	return nil
}

// DecryptPage verifies and decrypts page[0:len(page)-R] in place under dek
// and the nonce derived from pageNo. Fails if R < MinReserve, if the marker
// is absent, or if AEAD authentication fails (wrong key, wrong pageNo, or
// any tampering). On success the tag region is zeroed; the marker is left
// in place.
func DecryptPage(cipher cryptoService.ExplicitNonceAEAD, page []byte, pageNo uint32, reserve int) error {
	if reserve < MinReserve {
		return fmt.Errorf("%w: reserve %d is below minimum %d", cryptoDomain.ErrReserveTooSmall, reserve, MinReserve)
	}
	if reserve > len(page) {
		return fmt.Errorf("%w: reserve %d exceeds page size %d", cryptoDomain.ErrFormatFailure, reserve, len(page))
	}
	if !IsEncryptedPage(page, reserve) {
		return fmt.Errorf("%w: page %d has no EVFSv1 marker", cryptoDomain.ErrMarkerMissing, pageNo)
	}

	payloadEnd := len(page) - reserve
	sealed := make([]byte, payloadEnd+tagSize)
	copy(sealed[:payloadEnd], page[:payloadEnd])
	copy(sealed[payloadEnd:], page[payloadEnd:payloadEnd+tagSize])

	plaintext, err := cipher.OpenWithNonce(nonce(pageNo), sealed, nil)
	if err != nil {
		return fmt.Errorf("%w: page %d: %v", cryptoDomain.ErrCryptoFailure, pageNo, err)
	}

	copy(page[:payloadEnd], plaintext)
	for i := payloadEnd; i < payloadEnd+tagSize; i++ {
		page[i] = 0
	}

	return nil
}

// IsEncryptedPage reports whether the EVFSv1 marker is present at its
// expected offset within the page's reserve region.
func IsEncryptedPage(page []byte, reserve int) bool {
	if reserve < MinReserve || reserve > len(page) {
		return false
	}
	payloadEnd := len(page) - reserve
	markerStart := payloadEnd + tagSize
	markerEnd := markerStart + markerSize
	if markerEnd > len(page) {
		return false
	}
	return string(page[markerStart:markerEnd]) == Marker
}
