package liveroom

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// decodeBatch inflates body according to proto and extracts the ordered raw
// JSON bodies of each framed sub-packet it contains. It returns whatever
// sub-packet bodies it managed to extract even when a later sub-envelope is
// malformed — deliver-what-you-have semantics — alongside the error that
// ended extraction.
func decodeBatch(proto Protocol, body []byte) ([]json.RawMessage, error) {
	r, err := inflate(proto, body)
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	for {
		env, err := decodeEnvelope(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return items, nil
			}
			return items, fmt.Errorf("sub-envelope: %w", err)
		}

		n := int(env.TotalSize) - headerSize
		if n < 0 {
			return items, fmt.Errorf("sub-envelope total_size %d smaller than header", env.TotalSize)
		}
		buf := make([]byte, n)
		got, err := io.ReadFull(r, buf)
		if err != nil {
			return items, fmt.Errorf("short sub-envelope body: want %d got %d: %w", n, got, err)
		}

		items = append(items, json.RawMessage(buf))
	}
}

func inflate(proto Protocol, body []byte) (io.Reader, error) {
	switch proto {
	case ProtoZlib:
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		return zr, nil
	case ProtoBrotli:
		return brotli.NewReader(bytes.NewReader(body)), nil
	default:
		return nil, fmt.Errorf("unsupported batch protocol %d", proto)
	}
}
