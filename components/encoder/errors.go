package encoder

import (
	"github.com/pkg/errors"
)

// ErrInvalidConfiguration is returned when a setter is handed a value the encoder cannot run with.
// The previous value is always kept.
var ErrInvalidConfiguration = errors.New("invalid encoder configuration")

func newInvalidConfigurationError(field string, value interface{}) error {
	return errors.Wrapf(ErrInvalidConfiguration, "%s cannot be %v", field, value)
}
