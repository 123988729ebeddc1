package recognize

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
	"github.com/rs/zerolog"

	"vinscan-service/internal/domain/vin"
)

// VIN alphabet: A-Z and digits minus the letters excluded by the
// standard.
const (
	charWhitelist = "0123456789ABCDEFGHJKLMNPRSTUVWXYZ"
	charBlacklist = "IOQ"
)

// TesseractEngine wraps a persistent gosseract client configured for
// single-line VIN text.
type TesseractEngine struct {
	client *gosseract.Client
	log    zerolog.Logger
}

func NewTesseractEngine(log zerolog.Logger) (*TesseractEngine, error) {
	client := gosseract.NewClient()
	client.SetPageSegMode(gosseract.PSM_SINGLE_LINE)
	if err := client.SetVariable("tessedit_char_whitelist", charWhitelist); err != nil {
		client.Close()
		return nil, fmt.Errorf("configuring whitelist: %w", err)
	}
	if err := client.SetVariable("tessedit_char_blacklist", charBlacklist); err != nil {
		client.Close()
		return nil, fmt.Errorf("configuring blacklist: %w", err)
	}
	return &TesseractEngine{client: client, log: log}, nil
}

func (e *TesseractEngine) Mode() vin.ScanMode {
	return vin.ModeText
}

func (e *TesseractEngine) Recognize(ctx context.Context, frame image.Image) (vin.RecognitionResult, error) {
	if err := ctx.Err(); err != nil {
		return vin.RecognitionResult{}, err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, frame, imaging.PNG); err != nil {
		return vin.RecognitionResult{}, fmt.Errorf("encoding frame: %w", err)
	}
	if err := e.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return vin.RecognitionResult{}, fmt.Errorf("setting frame: %w", err)
	}

	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return vin.RecognitionResult{}, fmt.Errorf("recognizing frame: %w", err)
	}
	if len(boxes) == 0 {
		return vin.RecognitionResult{}, ErrNotFound
	}

	var words []string
	confidence := 0.0
	for _, b := range boxes {
		words = append(words, b.Word)
		confidence += b.Confidence
	}
	confidence /= float64(len(boxes))

	text := strings.TrimSpace(strings.Join(words, ""))
	if text == "" {
		return vin.RecognitionResult{}, ErrNotFound
	}

	return vin.RecognitionResult{
		Mode:       vin.ModeText,
		Text:       text,
		Confidence: confidence,
	}, nil
}

func (e *TesseractEngine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}
