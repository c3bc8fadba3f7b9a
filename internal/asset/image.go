package asset

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/matchers"
	"github.com/h2non/filetype/types"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// sniffLen is how much of a file filetype needs to recognise image formats.
const sniffLen = 262

// Image kinds accepted for decoding. Uploads are narrower, see UploadKinds.
var decodableKinds = []types.Type{
	matchers.TypeJpeg,
	matchers.TypePng,
	matchers.TypeBmp,
	matchers.TypeGif,
	matchers.TypeWebp,
}

// UploadKinds are the image types the processing service accepts.
var UploadKinds = []types.Type{
	matchers.TypeJpeg,
	matchers.TypePng,
	matchers.TypeBmp,
}

// SniffImage identifies the image type of data from its leading bytes.
func SniffImage(data []byte) (types.Type, error) {
	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	kind, err := filetype.Match(head)
	if err != nil {
		return types.Unknown, err
	}
	if kind == types.Unknown || !filetype.IsImage(head) {
		return types.Unknown, fmt.Errorf("not a recognised image")
	}
	return kind, nil
}

// IsKind reports whether kind is one of allowed.
func IsKind(kind types.Type, allowed []types.Type) bool {
	for _, a := range allowed {
		if kind.Extension == a.Extension {
			return true
		}
	}
	return false
}

// DecodeImage sniffs and decodes an image, returning it with the detected
// extension.
func DecodeImage(data []byte) (image.Image, string, error) {
	kind, err := SniffImage(data)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrAssetLoad, err)
	}
	if !IsKind(kind, decodableKinds) {
		return nil, "", fmt.Errorf("%w: unsupported image type %s", ErrAssetLoad, kind.MIME.Value)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: decode %s: %v", ErrAssetLoad, kind.Extension, err)
	}
	return img, kind.Extension, nil
}
