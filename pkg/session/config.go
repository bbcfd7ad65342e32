package session

import (
	"fmt"

	"github.com/menta2k/cropbox/pkg/types"
)

// Config is the session configuration supplied by the host
type Config struct {
	ViewportSize       types.Size                `json:"viewportSize"`
	CropSpecifications []types.CropSpecification `json:"cropSpecifications"`
	ResultFieldID      string                    `json:"resultFieldId"`
	Messages           []string                  `json:"messages,omitempty"`
}

// Validate checks if the configuration is usable
func (c Config) Validate() error {
	if c.ViewportSize.Width <= 0 || c.ViewportSize.Height <= 0 {
		return fmt.Errorf("viewportSize must be positive, got %dx%d", c.ViewportSize.Width, c.ViewportSize.Height)
	}
	if len(c.CropSpecifications) == 0 {
		return fmt.Errorf("cropSpecifications cannot be empty")
	}
	for i, spec := range c.CropSpecifications {
		if spec.Width <= 0 || spec.Height <= 0 {
			return fmt.Errorf("cropSpecifications[%d] must be positive, got %dx%d", i, spec.Width, spec.Height)
		}
	}
	if c.ResultFieldID == "" {
		return fmt.Errorf("resultFieldId cannot be empty")
	}
	return nil
}

// message returns the guidance text for index, if any
func (c Config) message(index int) (string, bool) {
	if index < 0 || index >= len(c.Messages) {
		return "", false
	}
	return c.Messages[index], true
}
