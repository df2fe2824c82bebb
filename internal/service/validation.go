package service

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/sakif/codehost/internal/apperror"
	"github.com/sakif/codehost/internal/auth"
)

const (
	MinPasswordLength  = 8
	MaxTitleLength     = 256
	MaxBodyLength      = 65536
	MaxFullNameLength  = 100
	MaxBioLength       = 500
	MaxLocationLength  = 100
	MaxBranchLength    = 255
	MaxRepoDescription = 1000
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,32}$`)
	repoNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,100}$`)
	// Git ref names are looser than this; spaces, "..", "~", "^", ":" and
	// leading "-" are the cases that matter here.
	branchPattern = regexp.MustCompile(`^[A-Za-z0-9._/][A-Za-z0-9._/-]*$`)
)

// check validates value against rules and converts the first failure into
// an apperror.ValidationFailed for field.
func check(field string, value any, rules ...validation.Rule) error {
	if err := validation.Validate(value, rules...); err != nil {
		return apperror.ValidationFailed(field, err.Error())
	}
	return nil
}

// firstError returns the first non-nil error.
func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func maxBytes(n int, message string) validation.Rule {
	return validation.By(func(value any) error {
		s, _ := value.(string)
		if len(s) > n {
			return errors.New(message)
		}
		return nil
	})
}

func validateRegistration(in RegisterInput) error {
	if in.Username == "" || in.Email == "" || in.Password == "" {
		return apperror.ValidationFailed("", "username, email and password are required")
	}
	return firstError(
		check("password", in.Password,
			validation.Length(MinPasswordLength, 0).Error(fmt.Sprintf("password must be at least %d characters", MinPasswordLength))),
		check("email", in.Email,
			validation.By(func(any) error {
				if !strings.Contains(in.Email, "@") {
					return errors.New("email must contain @")
				}
				return nil
			})),
		check("password", in.Password,
			maxBytes(auth.MaxPasswordBytes, fmt.Sprintf("password must be %d bytes or fewer", auth.MaxPasswordBytes))),
		check("username", in.Username,
			validation.Match(usernamePattern).Error("username must be 3-32 characters of letters, digits, '_' or '-'")),
		check("email", in.Email,
			is.Email.Error("email is not a valid address")),
		optionalString("fullName", in.FullName,
			validation.Length(0, MaxFullNameLength).Error(fmt.Sprintf("full name must be %d characters or fewer", MaxFullNameLength))),
	)
}

func validateRepositoryName(name string) error {
	return firstError(
		check("name", name, validation.Required.Error("repository name is required")),
		check("name", name,
			validation.Match(repoNamePattern).Error("repository name may only contain letters, digits, '.', '_' or '-' (max 100)")),
		check("name", name, validation.NotIn(".", "..").Error("repository name cannot be '.' or '..'")),
	)
}

func validateBranch(field, branch string) error {
	return firstError(
		check(field, branch, validation.Required.Error(field+" is required")),
		check(field, branch,
			validation.Length(1, MaxBranchLength).Error(fmt.Sprintf("%s must be %d characters or fewer", field, MaxBranchLength)),
			validation.Match(branchPattern).Error(field+" is not a valid branch name")),
		check(field, branch, validation.By(func(any) error {
			if strings.Contains(branch, "..") || strings.HasSuffix(branch, "/") || strings.HasSuffix(branch, ".lock") {
				return errors.New(field + " is not a valid branch name")
			}
			return nil
		})),
	)
}

func validateTitle(title string) error {
	return firstError(
		check("title", title, validation.Required.Error("title is required")),
		check("title", title,
			validation.Length(1, MaxTitleLength).Error(fmt.Sprintf("title must be %d characters or fewer", MaxTitleLength))),
	)
}

func validateBody(body *string) error {
	if body == nil {
		return nil
	}
	return check("body", *body,
		validation.Length(0, MaxBodyLength).Error(fmt.Sprintf("body must be %d characters or fewer", MaxBodyLength)))
}

func optionalString(field string, value *string, rules ...validation.Rule) error {
	if value == nil {
		return nil
	}
	return check(field, *value, rules...)
}
