package esp

import "github.com/d5/tengo/objects"

// ToError creates a tengo error object from an error.
// This can be used inside of extension functions to
// quickly create an error that can be returned to the
// page script.
func ToError(err error) objects.Object {
	if err == nil {
		return nil
	}

	return &objects.Error{
		Value: &objects.String{
			Value: err.Error(),
		},
	}
}
