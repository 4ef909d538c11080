package images

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/h2non/filetype"
	_ "golang.org/x/image/webp"

	"github.com/ShoshinNikita/recipebox/recipebox"
)

// Decoder turns raw bytes into an image. It must return an error that matches
// [recipebox.ErrInvalidData] if the bytes are not a supported image.
type Decoder interface {
	Decode(data []byte) (*recipebox.Image, error)
}

// StdDecoder decodes jpeg, png, gif and webp images. The original bytes are kept in
// [recipebox.Image.Data], so images never have to be encoded again.
type StdDecoder struct{}

func (StdDecoder) Decode(data []byte) (*recipebox.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty data", recipebox.ErrInvalidData)
	}

	// Responses of misconfigured servers (html pages, json errors) are rejected without decoding.
	if !filetype.IsImage(data) {
		kind, _ := filetype.Match(data)
		return nil, fmt.Errorf("%w: unexpected file type %q", recipebox.ErrInvalidData, kind.MIME.Value)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", recipebox.ErrInvalidData, err)
	}
	return &recipebox.Image{
		Image:  img,
		Format: format,
		Data:   data,
	}, nil
}
