package remote

import (
	"fmt"

	"github.com/banshee-data/blockview/internal/asset"
)

// ValidateUpload rejects images the service would refuse: anything other
// than JPEG, PNG or BMP, and anything larger than maxBytes.
func ValidateUpload(data []byte, maxBytes int64) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: image is empty", ErrInvalidInput)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return fmt.Errorf("%w: image is %d bytes, limit is %d MB", ErrInvalidInput, len(data), maxBytes>>20)
	}
	kind, err := asset.SniffImage(data)
	if err != nil || !asset.IsKind(kind, asset.UploadKinds) {
		return fmt.Errorf("%w: not a valid image, only JPEG, PNG and BMP are accepted", ErrInvalidInput)
	}
	return nil
}
