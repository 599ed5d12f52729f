package motion

import (
	"image"
)

// sampleGray downscales img to a w×h grayscale grid by nearest-neighbour
// sampling. Luma values are in [0, 255].
func sampleGray(img image.Image, w, h int) []float32 {
	out := make([]float32, w*h)
	b := img.Bounds()
	if b.Empty() {
		return out
	}

	for y := 0; y < h; y++ {
		sy := b.Min.Y + y*b.Dy()/h
		for x := 0; x < w; x++ {
			sx := b.Min.X + x*b.Dx()/w
			out[y*w+x] = luma(img, sx, sy)
		}
	}
	return out
}

func luma(img image.Image, x, y int) float32 {
	switch src := img.(type) {
	case *image.YCbCr:
		return float32(src.Y[src.YOffset(x, y)])
	case *image.Gray:
		return float32(src.Pix[src.PixOffset(x, y)])
	case *image.RGBA:
		i := src.PixOffset(x, y)
		return weighted(uint32(src.Pix[i]), uint32(src.Pix[i+1]), uint32(src.Pix[i+2]))
	case *image.NRGBA:
		i := src.PixOffset(x, y)
		return weighted(uint32(src.Pix[i]), uint32(src.Pix[i+1]), uint32(src.Pix[i+2]))
	default:
		r, g, bl, _ := img.At(x, y).RGBA()
		return weighted(r>>8, g>>8, bl>>8)
	}
}

func weighted(r, g, b uint32) float32 {
	return 0.299*float32(r) + 0.587*float32(g) + 0.114*float32(b)
}
