// internal/ble/protocol/chunk.go
package protocol

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// MaxChunkBytes is the largest UTF-8 slice the peripheral accepts in a single
// characteristic write.
const MaxChunkBytes = 13

// ChunkBytes splits the UTF-8 bytes of s into consecutive slices of at most
// maxBytes. Slices are cut on byte offsets, not rune boundaries: the firmware
// reassembles the raw byte stream. Returns nil for empty s or maxBytes <= 0.
func ChunkBytes(s string, maxBytes int) [][]byte {
	if len(s) == 0 || maxBytes <= 0 {
		return nil
	}
	b := []byte(s)
	chunks := make([][]byte, 0, (len(b)+maxBytes-1)/maxBytes)
	for len(b) > 0 {
		n := min(maxBytes, len(b))
		chunks = append(chunks, b[:n])
		b = b[n:]
	}
	return chunks
}

// EncodeChunks splits s into MaxChunkBytes slices and base64-encodes each one
// for transmission. len(result) == ceil(len(s) / MaxChunkBytes).
func EncodeChunks(s string) []string {
	raw := ChunkBytes(s, MaxChunkBytes)
	if raw == nil {
		return nil
	}
	encoded := make([]string, len(raw))
	for i, c := range raw {
		encoded[i] = base64.StdEncoding.EncodeToString(c)
	}
	return encoded
}

// DecodeChunks concatenates the decoded bytes of encoded chunks.
func DecodeChunks(encoded []string) (string, error) {
	var sb strings.Builder
	for i, e := range encoded {
		b, err := base64.StdEncoding.DecodeString(e)
		if err != nil {
			return "", fmt.Errorf("protocol: decode chunk %d: %w", i, err)
		}
		sb.Write(b)
	}
	return sb.String(), nil
}
