package resolve

import "errors"

var (
	errMissingValue = errors.New("evaluator returned no value")
	errNoConstValue = errors.New("Const node has no tensor value attribute")
)
