package manifeststore

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

func normalizeCompression(compression string) string {
	if compression == "" {
		return "none"
	}
	return compression
}

func compress(data []byte, compression string) ([]byte, error) {
	switch normalizeCompression(compression) {
	case "none":
		return data, nil
	case "gzip":
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(data); err != nil {
			return nil, err
		}
		if err := gw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "zstd":
		zw, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer zw.Close()
		return zw.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", compression)
	}
}

func decompress(data []byte, compression string) ([]byte, error) {
	switch normalizeCompression(compression) {
	case "none":
		return data, nil
	case "gzip":
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		return io.ReadAll(gr)
	case "zstd":
		zr, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return zr.DecodeAll(data, nil)
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", compression)
	}
}
