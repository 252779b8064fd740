package toast

import (
	"fmt"

	"github.com/disintegration/imaging"

	"github.com/skytoast/skytoast/pyramid"
)

// Thumbnail dimensions expected by the WorldWide Telescope client.
const (
	ThumbWidth  = 96
	ThumbHeight = 45
)

// WriteThumbnail renders the 96x45 WTML thumbnail from a pyramid's root
// tile.  The destination format follows the file extension; the root tile
// must exist and be a uint8 image.
func WriteThumbnail(store *pyramid.Store, dst string) error {
	root := pyramid.Pos{N: 0, X: 0, Y: 0}
	arr, err := store.ReadImage(root, "png", pyramid.MissingNone)
	if err != nil {
		return err
	}
	if arr == nil {
		return fmt.Errorf("pyramid %q has no root tile to thumbnail", store.Root())
	}
	img, err := arr.GoImage()
	if err != nil {
		return fmt.Errorf("unable to thumbnail root tile: %v", err)
	}
	thumb := imaging.Resize(img, ThumbWidth, ThumbHeight, imaging.Lanczos)
	if err := imaging.Save(thumb, dst); err != nil {
		return fmt.Errorf("unable to save thumbnail %q: %v", dst, err)
	}
	return nil
}
