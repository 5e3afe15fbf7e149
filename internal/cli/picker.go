package cli

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ncruces/zenity"
	"github.com/rs/zerolog/log"

	"github.com/fpang/picwizard/internal/filehandler"
)

// ErrPickCanceled is returned when the user closes the picker.
var ErrPickCanceled = errors.New("file selection canceled")

// imagePatterns returns glob patterns for every supported extension.
func imagePatterns() []string {
	patterns := make([]string, 0, len(filehandler.SupportedImageExtensions))
	for ext := range filehandler.SupportedImageExtensions {
		patterns = append(patterns, "*"+ext)
	}
	sort.Strings(patterns)
	return patterns
}

// PickFiles opens the native multi-file picker filtered to images.
func PickFiles() ([]string, error) {
	selected, err := zenity.SelectFileMultiple(
		zenity.Title("Select images"),
		zenity.FileFilters{
			{Name: "Images", Patterns: imagePatterns()},
		},
	)
	if err != nil {
		if errors.Is(err, zenity.ErrCanceled) {
			return nil, ErrPickCanceled
		}
		return nil, fmt.Errorf("file picker failed: %w", err)
	}
	log.Info().Int("count", len(selected)).Msg("Files picked via native dialog")
	return selected, nil
}

// PickSaveFile opens a native save dialog prefilled with name.
func PickSaveFile(name string) (string, error) {
	p, err := zenity.SelectFileSave(
		zenity.Title("Save as"),
		zenity.Filename(name),
		zenity.ConfirmOverwrite(),
	)
	if err != nil {
		if errors.Is(err, zenity.ErrCanceled) {
			return "", ErrPickCanceled
		}
		return "", fmt.Errorf("save dialog failed: %w", err)
	}
	return p, nil
}
