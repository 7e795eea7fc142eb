package user

import "github.com/musaver/admintaxmahir-sub002/internal/domain/importjob"

func ErrInvalidEmail(email string) *importjob.RowValidationError {
	return importjob.InvalidField(FieldEmail, "invalid email %q", email)
}
