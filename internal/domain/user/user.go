package user

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/musaver/admintaxmahir-sub002/internal/domain/importjob"
)

const (
	FieldName  = "name"
	FieldEmail = "email"
	FieldPhone = "phone"
	FieldRole  = "role"
)

const DefaultRole = "customer"

var (
	requiredFields = []string{FieldName, FieldEmail}
	allowedRoles   = map[string]struct{}{"customer": {}, "staff": {}, "admin": {}}
	validate       = validator.New()
)

type User struct {
	ID       string
	TenantID string
	Name     string
	Email    string
	Phone    string
	Role     string
}

// FromRow validates a parsed CSV row against the user schema.
func FromRow(fields map[string]string) (User, error) {
	for _, name := range requiredFields {
		if strings.TrimSpace(fields[name]) == "" {
			return User{}, importjob.MissingField(name)
		}
	}

	email := strings.ToLower(strings.TrimSpace(fields[FieldEmail]))
	if err := validate.Var(email, "email"); err != nil {
		return User{}, ErrInvalidEmail(email)
	}

	role := strings.ToLower(strings.TrimSpace(fields[FieldRole]))
	if role == "" {
		role = DefaultRole
	}
	if _, ok := allowedRoles[role]; !ok {
		return User{}, importjob.InvalidField(FieldRole, "invalid role %q", role)
	}

	return User{
		Name:  strings.TrimSpace(fields[FieldName]),
		Email: email,
		Phone: strings.TrimSpace(fields[FieldPhone]),
		Role:  role,
	}, nil
}
