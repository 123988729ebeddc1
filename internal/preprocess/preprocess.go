package preprocess

import (
	"image"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
)

// GrayscaleMethod selects the per-pixel formula combining the color
// channels into one intensity value.
type GrayscaleMethod string

const (
	GrayLuminosity   GrayscaleMethod = "luminosity"
	GrayAverage      GrayscaleMethod = "average"
	GrayBlueChannel  GrayscaleMethod = "blue-channel"
	GrayGreenChannel GrayscaleMethod = "green-channel"
	GrayRedChannel   GrayscaleMethod = "red-channel"
)

// BlueEmphasis sets the blue coefficient of the luminosity formula.
type BlueEmphasis string

const (
	BlueZero     BlueEmphasis = "zero"
	BlueNormal   BlueEmphasis = "normal"
	BlueHigh     BlueEmphasis = "high"
	BlueVeryHigh BlueEmphasis = "very-high"
)

var blueWeights = map[BlueEmphasis]float64{
	BlueZero:     0.33,
	BlueNormal:   0.5,
	BlueHigh:     0.7,
	BlueVeryHigh: 0.8,
}

// ThresholdMethod selects the final binarization step.
type ThresholdMethod string

const (
	ThresholdNone     ThresholdMethod = ""
	ThresholdGlobal   ThresholdMethod = "global"
	ThresholdAdaptive ThresholdMethod = "adaptive"
	ThresholdOtsu     ThresholdMethod = "otsu"
)

// Auto-invert trips when more than this fraction of pixels falls below
// the dark cutoff.
const (
	invertMajority = 0.6
	darkCutoff     = 128
	deepDarkCutoff = 100
	adaptiveBias   = 0.95
)

// Settings configures the preprocessing chain. The zero value disables
// every optional stage.
type Settings struct {
	Grayscale         GrayscaleMethod `json:"grayscale_method" mapstructure:"grayscale_method"`
	BlueEmphasis      BlueEmphasis    `json:"blue_emphasis" mapstructure:"blue_emphasis"`
	Contrast          int             `json:"contrast_adjustment" mapstructure:"contrast_adjustment"`   // -50..50
	Brightness        int             `json:"brightness_adjustment" mapstructure:"brightness_adjustment"` // -50..50
	AutoInvert        bool            `json:"auto_invert" mapstructure:"auto_invert"`
	AutoInvertDark    bool            `json:"auto_invert_dark" mapstructure:"auto_invert_dark"`
	EdgeEnhancement   bool            `json:"edge_enhancement" mapstructure:"edge_enhancement"`
	SharpenAmount     float64         `json:"sharpen_amount" mapstructure:"sharpen_amount"`
	NoiseReduction    bool            `json:"noise_reduction" mapstructure:"noise_reduction"`
	AdaptiveContrast  bool            `json:"adaptive_contrast" mapstructure:"adaptive_contrast"`
	ThresholdMethod   ThresholdMethod `json:"threshold_method" mapstructure:"threshold_method"`
	ThresholdValue    int             `json:"threshold_value" mapstructure:"threshold_value"`
	AdaptiveBlockSize int             `json:"adaptive_block_size" mapstructure:"adaptive_block_size"`
	AdaptiveConstant  int             `json:"adaptive_constant" mapstructure:"adaptive_constant"`
}

// Default returns the settings used when no preset is configured.
func Default() Settings {
	return Settings{
		Grayscale:         GrayLuminosity,
		BlueEmphasis:      BlueNormal,
		AutoInvert:        true,
		EdgeEnhancement:   true,
		SharpenAmount:     1.0,
		NoiseReduction:    true,
		ThresholdMethod:   ThresholdAdaptive,
		ThresholdValue:    128,
		AdaptiveBlockSize: 15,
		AdaptiveConstant:  2,
	}
}

// Process runs the preprocessing chain over a copy of img. Stage order:
// grayscale, contrast/brightness, auto-invert, edge enhancement, noise
// reduction, threshold. An unusable input is returned unchanged so the
// caller can continue with the next frame.
func Process(img image.Image, s Settings) image.Image {
	if img == nil || img.Bounds().Empty() {
		log.Warn().Msg("preprocess: empty frame, passing through")
		return img
	}

	out := imaging.Clone(img)

	if s.Grayscale != "" {
		grayscale(out, s.Grayscale, blueWeight(s.BlueEmphasis))
	}
	if s.Contrast != 0 || s.Brightness != 0 {
		contrastBrightness(out, clampRange(s.Contrast, -50, 50), clampRange(s.Brightness, -50, 50))
	}
	if s.AutoInvert || s.AutoInvertDark {
		cutoff := darkCutoff
		if s.AutoInvertDark {
			cutoff = deepDarkCutoff
		}
		if darkFraction(out, cutoff) > invertMajority {
			invert(out)
		}
	}
	if s.EdgeEnhancement {
		amount := s.SharpenAmount
		if amount <= 0 {
			amount = 1.0
		}
		out = sharpen(out, amount)
	}
	if s.NoiseReduction {
		out = medianFilter(out)
	}

	method := s.ThresholdMethod
	if s.AdaptiveContrast {
		method = ThresholdAdaptive
	}
	switch method {
	case ThresholdGlobal:
		globalThreshold(out, clampRange(s.ThresholdValue, 1, 254))
	case ThresholdAdaptive:
		out = adaptiveThreshold(out, oddBlockSize(s.AdaptiveBlockSize), s.AdaptiveConstant)
	case ThresholdOtsu:
		globalThreshold(out, otsuThreshold(out))
	}

	return out
}

func blueWeight(e BlueEmphasis) float64 {
	if w, ok := blueWeights[e]; ok {
		return w
	}
	return blueWeights[BlueNormal]
}

func clampRange(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp255(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}

func grayscale(img *image.NRGBA, method GrayscaleMethod, blue float64) {
	// Luminosity coefficients renormalized around the configured blue
	// weight so the output stays in range.
	rw, gw := 0.299, 0.587
	sum := rw + gw + blue

	for i := 0; i < len(img.Pix); i += 4 {
		r := float64(img.Pix[i])
		g := float64(img.Pix[i+1])
		b := float64(img.Pix[i+2])

		var v uint8
		switch method {
		case GrayAverage:
			v = clamp255((r + g + b) / 3)
		case GrayBlueChannel:
			v = img.Pix[i+2]
		case GrayGreenChannel:
			v = img.Pix[i+1]
		case GrayRedChannel:
			v = img.Pix[i]
		default:
			v = clamp255((rw*r + gw*g + blue*b) / sum)
		}
		img.Pix[i], img.Pix[i+1], img.Pix[i+2] = v, v, v
	}
}

func contrastBrightness(img *image.NRGBA, contrast, brightness int) {
	factor := (259.0 * float64(contrast+255)) / (255.0 * float64(259-contrast))
	offset := float64(brightness) / 100.0 * 255.0

	var lut [256]uint8
	for v := 0; v < 256; v++ {
		lut[v] = clamp255(factor*(float64(v)-128) + 128 + offset)
	}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = lut[img.Pix[i]]
		img.Pix[i+1] = lut[img.Pix[i+1]]
		img.Pix[i+2] = lut[img.Pix[i+2]]
	}
}

func darkFraction(img *image.NRGBA, cutoff int) float64 {
	total := len(img.Pix) / 4
	if total == 0 {
		return 0
	}
	dark := 0
	for i := 0; i < len(img.Pix); i += 4 {
		if int(img.Pix[i]) < cutoff {
			dark++
		}
	}
	return float64(dark) / float64(total)
}

func invert(img *image.NRGBA) {
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255 - img.Pix[i]
		img.Pix[i+1] = 255 - img.Pix[i+1]
		img.Pix[i+2] = 255 - img.Pix[i+2]
	}
}

// sharpenKernel is the 3x3 edge enhancement convolution.
var sharpenKernel = [3][3]float64{
	{0, -1, 0},
	{-1, 5, -1},
	{0, -1, 0},
}

func sharpen(img *image.NRGBA, amount float64) *image.NRGBA {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := imaging.Clone(img)

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			for c := 0; c < 3; c++ {
				var conv float64
				for ky := -1; ky <= 1; ky++ {
					for kx := -1; kx <= 1; kx++ {
						p := float64(img.Pix[(y+ky)*img.Stride+(x+kx)*4+c])
						conv += p * sharpenKernel[ky+1][kx+1]
					}
				}
				orig := float64(img.Pix[y*img.Stride+x*4+c])
				out.Pix[y*out.Stride+x*4+c] = clamp255(orig + amount*(conv-orig))
			}
		}
	}
	return out
}

func medianFilter(img *image.NRGBA) *image.NRGBA {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := imaging.Clone(img)

	var window [9]int
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			for c := 0; c < 3; c++ {
				n := 0
				for ky := -1; ky <= 1; ky++ {
					for kx := -1; kx <= 1; kx++ {
						window[n] = int(img.Pix[(y+ky)*img.Stride+(x+kx)*4+c])
						n++
					}
				}
				vals := window[:]
				sort.Ints(vals)
				out.Pix[y*out.Stride+x*4+c] = uint8(vals[4])
			}
		}
	}
	return out
}

func globalThreshold(img *image.NRGBA, threshold int) {
	for i := 0; i < len(img.Pix); i += 4 {
		v := uint8(0)
		if int(img.Pix[i]) > threshold {
			v = 255
		}
		img.Pix[i], img.Pix[i+1], img.Pix[i+2] = v, v, v
	}
}

func oddBlockSize(size int) int {
	if size < 3 {
		return 15
	}
	if size%2 == 0 {
		return size + 1
	}
	return size
}

// adaptiveThreshold binarizes against the local neighborhood mean scaled
// by a bias, minus a constant offset.
func adaptiveThreshold(img *image.NRGBA, block, constant int) *image.NRGBA {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := imaging.Clone(img)
	half := block / 2

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum, count := 0, 0
			for ky := -half; ky <= half; ky++ {
				for kx := -half; kx <= half; kx++ {
					ny, nx := y+ky, x+kx
					if ny < 0 || ny >= h || nx < 0 || nx >= w {
						continue
					}
					sum += int(img.Pix[ny*img.Stride+nx*4])
					count++
				}
			}
			local := float64(sum) / float64(count)
			v := uint8(0)
			if float64(img.Pix[y*img.Stride+x*4]) > local*adaptiveBias-float64(constant) {
				v = 255
			}
			i := y*out.Stride + x*4
			out.Pix[i], out.Pix[i+1], out.Pix[i+2] = v, v, v
		}
	}
	return out
}

// otsuThreshold picks the global threshold maximizing between-class
// variance of the intensity histogram.
func otsuThreshold(img *image.NRGBA) int {
	var hist [256]int
	total := 0
	for i := 0; i < len(img.Pix); i += 4 {
		hist[img.Pix[i]]++
		total++
	}
	if total == 0 {
		return 128
	}

	sumAll := 0.0
	for v, n := range hist {
		sumAll += float64(v * n)
	}

	best, bestVar := 128, -1.0
	wB, sumB := 0, 0.0
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / float64(wB)
		mF := (sumAll - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > bestVar {
			bestVar = between
			best = t
		}
	}
	return best
}
