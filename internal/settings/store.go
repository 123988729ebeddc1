package settings

import (
	"fmt"
	"sort"

	"github.com/spf13/viper"

	"vinscan-service/internal/preprocess"
)

// Store holds named ProcessingSettings presets. Presets come from an
// optional YAML file layered over the built-in ones; they are read at
// session start and never written by the scan pipeline.
type Store struct {
	presets map[string]preprocess.Settings
}

func builtinPresets() map[string]preprocess.Settings {
	return map[string]preprocess.Settings{
		"default": preprocess.Default(),
		"high-contrast": {
			Grayscale:         preprocess.GrayLuminosity,
			BlueEmphasis:      preprocess.BlueNormal,
			Contrast:          30,
			AutoInvert:        true,
			EdgeEnhancement:   true,
			SharpenAmount:     1.5,
			ThresholdMethod:   preprocess.ThresholdOtsu,
			AdaptiveBlockSize: 15,
		},
		"dark-background": {
			Grayscale:         preprocess.GrayLuminosity,
			BlueEmphasis:      preprocess.BlueHigh,
			AutoInvert:        true,
			AutoInvertDark:    true,
			NoiseReduction:    true,
			ThresholdMethod:   preprocess.ThresholdAdaptive,
			AdaptiveBlockSize: 21,
			AdaptiveConstant:  4,
		},
		"etched-metal": {
			Grayscale:       preprocess.GrayBlueChannel,
			Contrast:        20,
			Brightness:      10,
			EdgeEnhancement: true,
			SharpenAmount:   2.0,
			NoiseReduction:  true,
			ThresholdMethod: preprocess.ThresholdGlobal,
			ThresholdValue:  140,
		},
	}
}

// Load builds the store, merging presets from path when given.
func Load(path string) (*Store, error) {
	presets := builtinPresets()

	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading presets file: %w", err)
		}
		var fromFile map[string]preprocess.Settings
		if err := v.UnmarshalKey("presets", &fromFile); err != nil {
			return nil, fmt.Errorf("unmarshalling presets: %w", err)
		}
		for name, s := range fromFile {
			presets[name] = s
		}
	}

	return &Store{presets: presets}, nil
}

// Get returns the preset by name.
func (s *Store) Get(name string) (preprocess.Settings, bool) {
	p, ok := s.presets[name]
	return p, ok
}

// Names lists the available presets, sorted.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.presets))
	for n := range s.presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
