package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"bonzai/internal/bookings/nights"
	"bonzai/pkg/logger"
	"bonzai/pkg/model"

	"github.com/go-playground/validator/v10"
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var messages []string
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %d error(s): [%s]", len(v), strings.Join(messages, "; "))
}

type BookingValidator struct {
	validate *validator.Validate
	logger   *logger.Logger
}

func NewBookingValidator(log *logger.Logger) *BookingValidator {
	v := validator.New()
	v.RegisterTagNameFunc(jsonFieldName)

	if err := v.RegisterValidation("date_only", validateDateOnly); err != nil {
		log.Fatal("Failed to register 'date_only' validator", "error", err)
	}
	if err := v.RegisterValidation("room_counts", validateRoomCounts); err != nil {
		log.Fatal("Failed to register 'room_counts' validator", "error", err)
	}

	log.Debug("Booking validator initialized successfully")

	return &BookingValidator{
		validate: v,
		logger:   log,
	}
}

func jsonFieldName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "-" || name == "" {
		return fld.Name
	}
	return name
}

func validateDateOnly(fl validator.FieldLevel) bool {
	_, err := time.Parse(nights.DateLayout, fl.Field().String())
	return err == nil
}

// validateRoomCounts only checks quantities. Whether a room type exists is
// decided by the selector so the caller gets INVALID_ROOM_TYPE.
func validateRoomCounts(fl validator.FieldLevel) bool {
	counts, ok := fl.Field().Interface().(map[model.RoomType]int)
	if !ok {
		return false
	}
	for _, n := range counts {
		if n < 0 || n > maxRoomsPerType {
			return false
		}
	}
	return true
}

const maxRoomsPerType = 50

// Validate checks request shape only. Date ordering and room type membership
// are domain rules reported by the booking service.
func (v *BookingValidator) Validate(req *model.CreateBookingRequest) error {
	return v.run(req)
}

func (v *BookingValidator) ValidatePatch(patch *model.BookingPatch) error {
	return v.run(patch)
}

func (v *BookingValidator) run(s any) error {
	if err := v.validate.Struct(s); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return v.translateValidationErrors(validationErrs)
		}
		return err
	}
	return nil
}

func (v *BookingValidator) translateValidationErrors(errs validator.ValidationErrors) ValidationErrors {
	var validationErrors ValidationErrors

	for _, err := range errs {
		message := err.Error()

		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", err.Field())
		case "min":
			message = fmt.Sprintf("%s must be at least %s", err.Field(), err.Param())
		case "max":
			message = fmt.Sprintf("%s must be at most %s", err.Field(), err.Param())
		case "email":
			message = fmt.Sprintf("%s must be a valid email address", err.Field())
		case "date_only":
			message = fmt.Sprintf("%s must be a date in YYYY-MM-DD format", err.Field())
		case "room_counts":
			message = fmt.Sprintf("%s quantities must be between 0 and %d", err.Field(), maxRoomsPerType)
		}

		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field(),
			Message: message,
		})
	}

	return validationErrors
}
