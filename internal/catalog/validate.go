package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"procgrid/internal/models"
)

// namePattern is the accepted character set for category names.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9\s\-_&()]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Registration only fails on an empty tag or nil func.
	_ = v.RegisterValidation("categoryname", func(fl validator.FieldLevel) bool {
		return namePattern.MatchString(fl.Field().String())
	})
	return v
}

// CreateInput carries the fields accepted when creating a category.
type CreateInput struct {
	Name        string          `json:"name" validate:"required,max=100,categoryname"`
	Description string          `json:"description" validate:"max=2000"`
	ParentID    *uuid.UUID      `json:"parentId"`
	ImageURL    string          `json:"imageUrl" validate:"omitempty,url,max=500"`
	Metadata    models.Metadata `json:"metadata"`
}

// UpdateInput carries a partial update. Nil fields are left unchanged.
type UpdateInput struct {
	Name        *string         `json:"name" validate:"omitnil,min=1,max=100,categoryname"`
	Description *string         `json:"description" validate:"omitnil,max=2000"`
	ImageURL    *string         `json:"imageUrl" validate:"-"`
	Metadata    models.Metadata `json:"metadata"`
}

// validateStruct runs the struct tags and folds failures into a ValidationError.
func validateStruct(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[jsonField(fe.Field())] = describe(fe)
	}
	return &ValidationError{Fields: fields}
}

// validateImageURL checks an optional replacement image URL. An empty
// string clears the image and is always accepted.
func validateImageURL(u *string) error {
	if u == nil || *u == "" {
		return nil
	}
	if err := validate.Var(*u, "url,max=500"); err != nil {
		return fieldError("imageUrl", "must be a valid URL of at most 500 characters")
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "min":
		return "must not be empty"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "categoryname":
		return "may only contain letters, digits, spaces and - _ & ( )"
	case "url":
		return "must be a valid URL"
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// jsonField lower-cases the first letter so field names match the JSON body.
func jsonField(name string) string {
	switch name {
	case "ImageURL":
		return "imageUrl"
	case "ParentID":
		return "parentId"
	}
	if name == "" {
		return name
	}
	return strings.ToLower(name[:1]) + name[1:]
}

func validateActor(actor string) error {
	if strings.TrimSpace(actor) == "" {
		return fieldError("actor", "must not be empty")
	}
	return nil
}
