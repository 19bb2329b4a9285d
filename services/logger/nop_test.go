package logsvc

import (
	"testing"

	"github.com/kat-co/vala"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/masomo-pkl/core"
)

// constructors guard their logger with vala.IsNotNil, which panics on struct values
func TestNopLogger_constructorGuard(t *testing.T) {
	var logger core.Logger = NewNopLogger()

	assert.NotPanics(t, func() {
		vala.BeginValidation().Validate(
			vala.IsNotNil(logger, "logger"),
		).CheckAndPanic()
	})
	assert.NotPanics(t, func() {
		logger.Info("ignored")
		logger.Fatal("ignored")
	})
}
