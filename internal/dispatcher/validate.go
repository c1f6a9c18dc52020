package dispatcher

import (
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/dreamware/worldmesh/internal/cluster"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// validateStruct validates s against its `validate` struct tags, returning
// an INVALID_ARGUMENT cluster.Error naming the first failing field.
// Grounded on the requests package's ValidateStruct helper.
func validateStruct(s any) error {
	validateOnce.Do(func() { validate = validator.New() })

	if err := validate.Struct(s); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return cluster.NewError(cluster.KindInvalidArgument, fe.Field()+" failed "+fe.Tag())
		}
		return cluster.NewError(cluster.KindInvalidArgument, err.Error())
	}
	return nil
}
