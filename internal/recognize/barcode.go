package recognize

import (
	"context"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/rs/zerolog"

	"vinscan-service/internal/domain/vin"
)

// BarcodeEngine decodes the symbologies VINs are commonly printed in:
// Code 39, Code 128 and DataMatrix. Readers are tried in that order per
// frame.
type BarcodeEngine struct {
	readers []gozxing.Reader
	hints   map[gozxing.DecodeHintType]interface{}
	log     zerolog.Logger
}

func NewBarcodeEngine(log zerolog.Logger) *BarcodeEngine {
	return &BarcodeEngine{
		readers: []gozxing.Reader{
			oned.NewCode39Reader(),
			oned.NewCode128Reader(),
			datamatrix.NewDataMatrixReader(),
		},
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
		log: log,
	}
}

func (e *BarcodeEngine) Mode() vin.ScanMode {
	return vin.ModeBarcode
}

func (e *BarcodeEngine) Recognize(ctx context.Context, frame image.Image) (vin.RecognitionResult, error) {
	if err := ctx.Err(); err != nil {
		return vin.RecognitionResult{}, err
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(frame)
	if err != nil {
		return vin.RecognitionResult{}, err
	}

	for _, r := range e.readers {
		result, err := r.Decode(bmp, e.hints)
		if err != nil {
			// "not found" from one symbology just means try the next.
			continue
		}
		text := result.GetText()
		if text == "" {
			continue
		}
		return vin.RecognitionResult{
			Mode:       vin.ModeBarcode,
			Text:       text,
			Confidence: 100,
		}, nil
	}
	return vin.RecognitionResult{}, ErrNotFound
}

// Close resets the engine. Barcode readers hold no external resources,
// so this never fails.
func (e *BarcodeEngine) Close() error {
	return nil
}
