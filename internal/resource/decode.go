package resource

import (
	"bytes"
	"fmt"
	"image"
	_ "image/png"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
)

// decode turns raw bytes into the payload kept by an Info: []byte for
// files, image.Image for images and a fully buffered *beep.Buffer for music.
func decode(t Type, data []byte) (any, error) {
	switch t {
	case TypeImage:
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
		return img, nil
	case TypeMusic:
		s, format, err := wav.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode wav: %w", err)
		}
		defer s.Close()
		buf := beep.NewBuffer(format)
		buf.Append(s)
		if err := s.Err(); err != nil {
			return nil, fmt.Errorf("decode wav: %w", err)
		}
		return buf, nil
	default:
		return data, nil
	}
}
