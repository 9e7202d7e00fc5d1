// Package imagefile opens partition images for flashing. Compressed images
// are expanded to a temporary file so they can be read at random offsets.
package imagefile

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Format names the container an image was stored in.
type Format string

const (
	FormatRaw   Format = "raw"
	FormatGzip  Format = "gzip"
	FormatZstd  Format = "zstd"
	FormatBzip2 Format = "bzip2"
)

var magics = []struct {
	format Format
	magic  []byte
}{
	{FormatGzip, []byte{0x1f, 0x8b}},
	{FormatZstd, []byte{0x28, 0xb5, 0x2f, 0xfd}},
	{FormatBzip2, []byte("BZh")},
}

// Image is an opened image ready to be flashed.
type Image struct {
	*io.SectionReader
	Format Format
	Path   string

	file *os.File
	temp string
}

// Detect returns the format whose magic prefixes header.
func Detect(header []byte) Format {
	for _, m := range magics {
		if bytes.HasPrefix(header, m.magic) {
			return m.format
		}
	}
	return FormatRaw
}

// Open opens path, expanding it first when it is compressed.
func Open(path string) (*Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}

	header := make([]byte, 4)
	n, err := file.ReadAt(header, 0)
	if err != nil && err != io.EOF {
		file.Close()
		return nil, fmt.Errorf("failed to read image header: %w", err)
	}

	format := Detect(header[:n])
	if format == FormatRaw {
		stat, err := file.Stat()
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to stat image: %w", err)
		}
		return &Image{
			SectionReader: io.NewSectionReader(file, 0, stat.Size()),
			Format:        FormatRaw,
			Path:          path,
			file:          file,
		}, nil
	}

	defer file.Close()
	img, err := expand(file, format)
	if err != nil {
		return nil, fmt.Errorf("failed to expand %s image %s: %w", format, path, err)
	}
	img.Path = path
	return img, nil
}

func expand(src io.Reader, format Format) (*Image, error) {
	var r io.Reader
	switch format {
	case FormatGzip:
		gz, err := gzip.NewReader(src)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	case FormatZstd:
		zr, err := zstd.NewReader(src)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	case FormatBzip2:
		bz, err := bzip2.NewReader(src, &bzip2.ReaderConfig{})
		if err != nil {
			return nil, err
		}
		defer bz.Close()
		r = bz
	default:
		return nil, fmt.Errorf("unsupported format %s", format)
	}

	temp, err := os.CreateTemp("", "qdl-image-*")
	if err != nil {
		return nil, err
	}
	size, err := io.Copy(temp, r)
	if err != nil {
		temp.Close()
		os.Remove(temp.Name())
		return nil, err
	}

	return &Image{
		SectionReader: io.NewSectionReader(temp, 0, size),
		Format:        format,
		file:          temp,
		temp:          temp.Name(),
	}, nil
}

// Close releases the image, removing the expanded copy if one was made.
func (i *Image) Close() error {
	err := i.file.Close()
	if i.temp != "" {
		if rmErr := os.Remove(i.temp); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	return err
}

// TempPath returns the path of the expanded copy, or "" for raw images.
func (i *Image) TempPath() string {
	return i.temp
}
