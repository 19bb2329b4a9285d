package placement

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-pkl/core"
)

var (
	periodRangeTag  = "period_range"
	periodRangeText = "end date cannot be before start date"
)

// InitValidators registers the placement validators on validate.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	validate.RegisterStructValidation(newPeriodStructValidation, NewPeriod{})
	core.RegisterCustomTranslation(validate, translator, periodRangeTag, periodRangeText)
}

// newPeriodStructValidation checks that the period does not end before it starts.
func newPeriodStructValidation(sl validator.StructLevel) {
	if np, ok := sl.Current().Interface().(NewPeriod); ok {
		if !np.StartDate.IsZero() && !np.EndDate.IsZero() && np.EndDate.Before(np.StartDate) {
			sl.ReportError(np.EndDate, "end_date", "EndDate", periodRangeTag, "")
		}
	}
}
