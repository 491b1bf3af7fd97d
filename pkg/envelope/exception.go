package envelope

import "fmt"

// typeNameOf returns a stable type name for an error value, used as
// diagnostics.exception.type when the caller didn't supply one
// explicitly.
func typeNameOf(err error) string {
	return fmt.Sprintf("%T", err)
}
