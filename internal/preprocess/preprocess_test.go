package preprocess

import (
	"image"
	"image/color"
	"testing"
)

// fill builds a WxH frame where the first darkCount pixels are dark and
// the remainder bright.
func fill(w, h, darkCount int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	n := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{R: 200, G: 200, B: 200, A: 255}
			if n < darkCount {
				c = color.NRGBA{R: 30, G: 30, B: 30, A: 255}
			}
			img.SetNRGBA(x, y, c)
			n++
		}
	}
	return img
}

func TestAutoInvertTriggersOnDarkMajority(t *testing.T) {
	// 70 of 100 pixels below 128: the frame must be inverted.
	img := fill(10, 10, 70)
	out := Process(img, Settings{AutoInvert: true})

	nrgba, ok := out.(*image.NRGBA)
	if !ok {
		t.Fatalf("Process returned %T, want *image.NRGBA", out)
	}
	if got := nrgba.NRGBAAt(0, 0).R; got != 255-30 {
		t.Errorf("dark pixel after invert = %d, want %d", got, 255-30)
	}
	if got := nrgba.NRGBAAt(9, 9).R; got != 255-200 {
		t.Errorf("bright pixel after invert = %d, want %d", got, 255-200)
	}
}

func TestAutoInvertLeavesBrightMajorityAlone(t *testing.T) {
	// 40 of 100 pixels dark: below the 60% majority, no inversion.
	img := fill(10, 10, 40)
	out := Process(img, Settings{AutoInvert: true})

	nrgba := out.(*image.NRGBA)
	if got := nrgba.NRGBAAt(0, 0).R; got != 30 {
		t.Errorf("dark pixel = %d, want unmodified 30", got)
	}
	if got := nrgba.NRGBAAt(9, 9).R; got != 200 {
		t.Errorf("bright pixel = %d, want unmodified 200", got)
	}
}

func TestProcessDoesNotMutateInput(t *testing.T) {
	img := fill(8, 8, 64)
	Process(img, Settings{AutoInvert: true, Grayscale: GrayAverage, Contrast: 20})

	if got := img.NRGBAAt(0, 0).R; got != 30 {
		t.Errorf("input frame was mutated: pixel = %d, want 30", got)
	}
}

func TestGrayscaleChannelCopy(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 10, G: 120, B: 240, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 50, G: 60, B: 70, A: 255})

	tests := []struct {
		method GrayscaleMethod
		want   uint8
	}{
		{GrayRedChannel, 10},
		{GrayGreenChannel, 120},
		{GrayBlueChannel, 240},
		{GrayAverage, 123}, // (10+120+240)/3 rounded
	}

	for _, tt := range tests {
		out := Process(img, Settings{Grayscale: tt.method}).(*image.NRGBA)
		px := out.NRGBAAt(0, 0)
		if px.R != tt.want || px.G != tt.want || px.B != tt.want {
			t.Errorf("%s: got (%d,%d,%d), want all %d", tt.method, px.R, px.G, px.B, tt.want)
		}
	}
}

func TestGrayscaleLuminosityBlueEmphasis(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 0, G: 0, B: 255, A: 255})

	low := Process(img, Settings{Grayscale: GrayLuminosity, BlueEmphasis: BlueZero}).(*image.NRGBA)
	high := Process(img, Settings{Grayscale: GrayLuminosity, BlueEmphasis: BlueVeryHigh}).(*image.NRGBA)

	if low.NRGBAAt(0, 0).R >= high.NRGBAAt(0, 0).R {
		t.Errorf("blue emphasis should raise a blue pixel's intensity: zero=%d very-high=%d",
			low.NRGBAAt(0, 0).R, high.NRGBAAt(0, 0).R)
	}
}

func TestContrastZeroIsIdentity(t *testing.T) {
	img := fill(4, 4, 8)
	out := Process(img, Settings{Contrast: 0, Brightness: 0}).(*image.NRGBA)

	for i := 0; i < len(img.Pix); i++ {
		if img.Pix[i] != out.Pix[i] {
			t.Fatalf("pixel byte %d changed with zero adjustments", i)
		}
	}
}

func TestBrightnessShiftsUp(t *testing.T) {
	img := fill(4, 4, 16)
	out := Process(img, Settings{Brightness: 20}).(*image.NRGBA)
	if got := out.NRGBAAt(0, 0).R; got <= 30 {
		t.Errorf("brightness +20%% left dark pixel at %d", got)
	}
}

func TestGlobalThresholdBinarizes(t *testing.T) {
	img := fill(6, 6, 18)
	out := Process(img, Settings{ThresholdMethod: ThresholdGlobal, ThresholdValue: 128}).(*image.NRGBA)

	for i := 0; i < len(out.Pix); i += 4 {
		if v := out.Pix[i]; v != 0 && v != 255 {
			t.Fatalf("thresholded pixel has intermediate value %d", v)
		}
	}
}

func TestOtsuSeparatesBimodal(t *testing.T) {
	img := fill(10, 10, 50)
	out := Process(img, Settings{ThresholdMethod: ThresholdOtsu}).(*image.NRGBA)

	if got := out.NRGBAAt(0, 0).R; got != 0 {
		t.Errorf("dark cluster pixel = %d, want 0", got)
	}
	if got := out.NRGBAAt(9, 9).R; got != 255 {
		t.Errorf("bright cluster pixel = %d, want 255", got)
	}
}

func TestMedianFilterRemovesSaltNoise(t *testing.T) {
	img := fill(9, 9, 0) // uniform bright frame
	img.SetNRGBA(4, 4, color.NRGBA{R: 0, G: 0, B: 0, A: 255})

	out := Process(img, Settings{NoiseReduction: true}).(*image.NRGBA)
	if got := out.NRGBAAt(4, 4).R; got != 200 {
		t.Errorf("isolated dark pixel survived the median filter: %d", got)
	}
}

func TestProcessNilFramePassesThrough(t *testing.T) {
	if got := Process(nil, Default()); got != nil {
		t.Errorf("Process(nil) = %v, want nil", got)
	}

	empty := image.NewNRGBA(image.Rect(0, 0, 0, 0))
	if got := Process(empty, Default()); got != empty {
		t.Error("Process on an empty frame must return the input unchanged")
	}
}
