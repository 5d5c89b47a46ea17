package vision

import (
	"encoding/base64"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	apperrors "github.com/betterme/betterme/internal/errors"
)

// Slot names one of the photos an analysis needs.
type Slot string

const (
	SlotFront     Slot = "front"
	SlotLeftSide  Slot = "left_side"
	SlotRightSide Slot = "right_side"
	SlotHair      Slot = "hair"
	SlotTeeth     Slot = "teeth"
	SlotBody      Slot = "body"
)

// Slots lists every slot in capture order.
var Slots = []Slot{SlotFront, SlotLeftSide, SlotRightSide, SlotHair, SlotTeeth, SlotBody}

// Photos is a complete capture keyed by slot.
type Photos map[Slot]*Image

// Missing returns the slots without an image, in capture order.
func (p Photos) Missing() []Slot {
	var missing []Slot
	for _, s := range Slots {
		if img, ok := p[s]; !ok || img == nil || len(img.Data) == 0 {
			missing = append(missing, s)
		}
	}
	return missing
}

// Image is a decoded photo.
type Image struct {
	MIMEType string
	Data     []byte
}

var supportedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// Extension returns the file extension for the image type.
func (i *Image) Extension() string {
	return supportedTypes[i.MIMEType]
}

var dataURLPattern = regexp.MustCompile(`^data:([A-Za-z+/-]+);base64,(.+)$`)

// ParseDataURL decodes a base64 data URL holding a JPEG, PNG or WebP image.
func ParseDataURL(s string) (*Image, error) {
	if !strings.HasPrefix(s, "data:image/") {
		return nil, apperrors.NewValidation("invalid image format, must be a data URL")
	}
	m := dataURLPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, apperrors.NewValidation("invalid image data URL format")
	}
	if _, ok := supportedTypes[m[1]]; !ok {
		return nil, apperrors.NewValidation("unsupported image format " + m[1] + ", must be JPEG, PNG or WebP")
	}
	data, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, "invalid base64 image data", err)
	}
	return &Image{MIMEType: m[1], Data: data}, nil
}

// LoadFile reads an image from disk, sniffing its type from the content.
func LoadFile(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, "cannot read photo "+filepath.Base(path), err)
	}
	mime := http.DetectContentType(data)
	if _, ok := supportedTypes[mime]; !ok {
		return nil, apperrors.NewValidation("unsupported image format " + mime + " in " + filepath.Base(path))
	}
	return &Image{MIMEType: mime, Data: data}, nil
}
