// Package material resolves shader names from .mtr scripts into decoded
// textures, shared between models through reference counting.
package material

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io/fs"
	"path"
	"strings"

	"github.com/ftrvxmtrx/tga"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
)

// ErrMissingTexture is returned when no readable image backs a texture path.
var ErrMissingTexture = errors.New("texture not found")

// Texture is a decoded image, always converted to 8-bit RGBA.
type Texture struct {
	Path     string
	Width    int
	Height   int
	Channels int
	Pixels   []byte // Width*Height*Channels bytes, rows from the top
}

// DecodeTexture loads one texture from the file system and converts it to
// RGBA. Paths without an extension are probed against the handled formats,
// since material scripts frequently omit it.
func DecodeTexture(fsys fs.FS, texPath string) (*Texture, error) {
	clean := path.Clean(strings.ReplaceAll(texPath, `\`, "/"))

	f, name, err := openTexture(fsys, clean)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := decodeImage(f, name)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}

	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}

	return &Texture{
		Path:     name,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Channels: 4,
		Pixels:   rgba.Pix,
	}, nil
}

// openTexture opens the texture file, probing extensions when the path has
// none. The name actually opened is returned alongside the file.
func openTexture(fsys fs.FS, p string) (fs.File, string, error) {
	if path.Ext(p) != "" {
		f, err := fsys.Open(p)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %s", ErrMissingTexture, p)
		}
		return f, p, nil
	}
	for _, ext := range []string{".tga", ".png", ".jpg", ".bmp"} {
		if f, err := fsys.Open(p + ext); err == nil {
			return f, p + ext, nil
		}
	}
	return nil, "", fmt.Errorf("%w: %s", ErrMissingTexture, p)
}

// decodeImage picks the decoder from the file name. TGA has no magic bytes
// for the stdlib registry to sniff, so it is dispatched explicitly.
func decodeImage(f fs.File, name string) (image.Image, error) {
	if strings.EqualFold(path.Ext(name), ".tga") {
		return tga.Decode(f)
	}
	img, _, err := image.Decode(f)
	return img, err
}
