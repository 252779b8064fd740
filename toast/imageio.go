package toast

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/skytoast/skytoast/skytoast"
)

// LoadImageArray reads an image file into a uint8 Array.  PNG, JPEG, BMP
// and TIFF are understood.
func LoadImageArray(filename string) (*skytoast.Array, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("unable to open image %q: %v", filename, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("unable to decode image %q: %v", filename, err)
	}
	return skytoast.ArrayFromImage(img)
}
