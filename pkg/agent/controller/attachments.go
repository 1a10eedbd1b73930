package controller

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	"golang.org/x/image/draw"

	_ "image/gif"  // decoder registration
	_ "image/jpeg" // decoder registration
	_ "image/png"  // decoder registration

	_ "golang.org/x/image/bmp"  // decoder registration
	_ "golang.org/x/image/webp" // decoder registration

	"github.com/docsight/docsight/pkg/models"
)

// ErrAttachment marks an attachment the engine cannot accept.
var ErrAttachment = errors.New("invalid attachment")

const (
	// attachmentMaxDim is the longest edge after re-encoding.
	attachmentMaxDim = 1024
	// attachmentMaxBytes bounds the encoded payload.
	attachmentMaxBytes = 4 * 1024 * 1024
)

// prepareAttachments validates and re-encodes incoming files for model
// input. Images are decoded, scaled down to attachmentMaxDim on the
// longest edge, and re-encoded as PNG or JPEG. Non-image files and
// payloads that stay oversized after re-encoding are rejected.
func prepareAttachments(files []models.Attachment) ([]models.Attachment, error) {
	if len(files) == 0 {
		return nil, nil
	}
	out := make([]models.Attachment, 0, len(files))
	for i, f := range files {
		if f.Type != "image" {
			return nil, fmt.Errorf("%w: file %d has unsupported type %q", ErrAttachment, i, f.Type)
		}
		encoded, err := reencodeImage(f)
		if err != nil {
			return nil, fmt.Errorf("%w: file %d: %s", ErrAttachment, i, err)
		}
		out = append(out, encoded)
	}
	return out, nil
}

func reencodeImage(f models.Attachment) (models.Attachment, error) {
	raw, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		return models.Attachment{}, fmt.Errorf("base64 decode failed: %w", err)
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return models.Attachment{}, fmt.Errorf("image decode failed: %w", err)
	}

	img = scaleDown(img, attachmentMaxDim)

	// JPEG input stays JPEG (keeps photos small); everything else
	// normalizes to PNG.
	var buf bytes.Buffer
	mediaType := "image/png"
	if format == "jpeg" || strings.Contains(f.MediaType, "jpeg") {
		mediaType = "image/jpeg"
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85})
	} else {
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return models.Attachment{}, fmt.Errorf("image encode failed: %w", err)
	}
	if buf.Len() > attachmentMaxBytes {
		return models.Attachment{}, fmt.Errorf("encoded image is %d bytes, limit %d", buf.Len(), attachmentMaxBytes)
	}

	return models.Attachment{
		Type:      "image",
		MediaType: mediaType,
		Data:      base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// scaleDown resizes so the longest edge is at most maxDim, preserving
// aspect ratio. Images already within bounds pass through untouched.
func scaleDown(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}

	var nw, nh int
	if w >= h {
		nw = maxDim
		nh = h * maxDim / w
	} else {
		nh = maxDim
		nw = w * maxDim / h
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
