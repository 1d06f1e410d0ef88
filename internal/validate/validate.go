package validate

// Thin wrapper around go-playground/validator shared by config, storage and
// incoming scan signals.
//
// e.g. internal/phase/phase.go
//   type Signal struct {
//       Phase    Phase    `validate:"omitempty,scan_phase"`
//       Progress *float64 `validate:"omitempty,gte=0,lte=100"`
//   }

import (
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/ensigniasec/scanwatch/internal/phase"
)

//nolint:gochecknoglobals // Shared validator singleton.
var (
	validatorOnce sync.Once
	validatorInst *validator.Validate
)

// get returns a process-wide singleton of the validator.
func get() *validator.Validate {
	validatorOnce.Do(func() {
		validatorInst = validator.New(validator.WithRequiredStructEnabled())
		// scan_phase accepts only phase tags the remote queue is documented to send.
		_ = validatorInst.RegisterValidation("scan_phase", func(fl validator.FieldLevel) bool {
			return phase.Phase(fl.Field().String()).Valid()
		})
	})
	return validatorInst
}

// Struct validates a struct using the shared validator instance.
func Struct(v any) error {
	return get().Struct(v)
}

// Var validates a single variable against the provided tag constraints.
func Var(field any, tag string) error {
	return get().Var(field, tag)
}
