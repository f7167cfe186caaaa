package backup

import (
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

const extension = ".zst"

// Compress writes a zstd compressed copy of a file next to it and returns
// its path.
func Compress(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", errors.Errorf("open file: %s", err)
	}
	defer func() { _ = in.Close() }()

	dstPath := path + extension
	if err := writeFile(dstPath, func(out io.Writer) error {
		enc, err := zstd.NewWriter(out)
		if err != nil {
			return errors.Errorf("new writer: %s", err)
		}
		if _, err := io.Copy(enc, in); err != nil {
			_ = enc.Close()
			return errors.Errorf("copy to writer: %s", err)
		}
		return enc.Close()
	}); err != nil {
		return "", err
	}
	return dstPath, nil
}

// Decompress writes the decompressed content of a .zst file next to it
// and returns its path.
func Decompress(path string) (string, error) {
	if !strings.HasSuffix(path, extension) {
		return "", errors.Errorf("%s isn't a %s file", path, extension)
	}
	in, err := os.Open(path)
	if err != nil {
		return "", errors.Errorf("open file: %s", err)
	}
	defer func() { _ = in.Close() }()

	dstPath := strings.TrimSuffix(path, extension)
	if err := writeFile(dstPath, func(out io.Writer) error {
		dec, err := zstd.NewReader(in)
		if err != nil {
			return errors.Errorf("new reader: %s", err)
		}
		defer dec.Close()
		if _, err := io.Copy(out, dec); err != nil {
			return errors.Errorf("copy from reader: %s", err)
		}
		return nil
	}); err != nil {
		return "", err
	}
	return dstPath, nil
}

// writeFile creates path with the content produced by fill. The file is
// removed if fill fails.
func writeFile(path string, fill func(io.Writer) error) error {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Errorf("open new file: %s", err)
	}
	if err := fill(out); err != nil {
		_ = out.Close()
		_ = os.Remove(path)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(path)
		return errors.Errorf("closing file: %s", err)
	}
	return nil
}
