package rpc

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/nexi-lab/nexus/pkg/errtypes"
)

var validate = validator.New()

// decodeParams unmarshals a method's named-parameter object into dst and
// runs struct-tag validation (spec §4.9 "a registry maps method name ->
// (handler, required-permission-context)" — required-ness of individual
// fields is expressed as validator tags on each method's params struct).
// A missing params object decodes as a zero value, which most methods'
// required-field validation will then reject with VALIDATION_ERROR.
func decodeParams(raw json.RawMessage, dst interface{}) error {
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, dst); err != nil {
			return errtypes.Validation("malformed params: " + err.Error())
		}
	}
	if err := validate.Struct(dst); err != nil {
		return errtypes.Validation("invalid params: " + err.Error())
	}
	return nil
}
