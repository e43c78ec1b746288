package queue

import (
	"regexp"
	"strings"

	"qms/queue-service/internal/models"
	"qms/queue-service/internal/priority"
)

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	return nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func validSource(source string) error {
	switch source {
	case models.SourceKiosk, models.SourceWeb, models.SourcePhone:
		return nil
	default:
		return &ValidationError{Field: "source", Message: "must be kiosk, web or phone"}
	}
}

// ValidPhone accepts an empty phone or an E.164 number.
func ValidPhone(phone string) bool {
	return phone == "" || e164.MatchString(phone)
}

func validLevel(level int) error {
	if level < priority.MinPriority || level > priority.MaxPriority {
		return &ValidationError{Field: "priority", Message: "must be between 0 and 3"}
	}
	return nil
}

func validRating(rating int) error {
	if rating < 1 || rating > 5 {
		return &ValidationError{Field: "rating", Message: "must be between 1 and 5"}
	}
	return nil
}

func normalizeCustomer(customer models.Customer) (models.Customer, error) {
	customer.Name = strings.TrimSpace(customer.Name)
	customer.MemberRef = strings.TrimSpace(customer.MemberRef)
	customer.MemberTier = strings.TrimSpace(customer.MemberTier)
	customer.Phone = strings.TrimSpace(customer.Phone)
	customer.PushTarget = strings.TrimSpace(customer.PushTarget)
	if !ValidPhone(customer.Phone) {
		return customer, &ValidationError{Field: "customer.phone", Message: "must be E.164"}
	}
	return customer, nil
}
