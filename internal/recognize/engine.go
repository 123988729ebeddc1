package recognize

import (
	"context"
	"fmt"
	"image"

	"github.com/rs/zerolog"

	"vinscan-service/internal/domain/vin"
)

// ErrNotFound reports a frame with no recognizable text or barcode. It
// is a transient condition: the scan loop moves on to the next frame.
var ErrNotFound = fmt.Errorf("nothing recognized")

// Engine turns a preprocessed frame into recognized text.
type Engine interface {
	Recognize(ctx context.Context, frame image.Image) (vin.RecognitionResult, error)
	Mode() vin.ScanMode
	Close() error
}

// NewEngine builds the engine for a scan mode.
func NewEngine(mode vin.ScanMode, log zerolog.Logger) (Engine, error) {
	switch mode {
	case vin.ModeText, "":
		return NewTesseractEngine(log)
	case vin.ModeBarcode:
		return NewBarcodeEngine(log), nil
	default:
		return nil, fmt.Errorf("unknown scan mode: %s", mode)
	}
}
