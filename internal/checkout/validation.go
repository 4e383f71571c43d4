package checkout

import (
	"errors"
	"reflect"
	"strings"

	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-flora/internal/common"
)

// Contact identifies the buyer.
type Contact struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	FirstName string `json:"firstName" validate:"required,max=100"`
	LastName  string `json:"lastName" validate:"required,max=100"`
	Phone     string `json:"phone" validate:"omitempty,max=32"`
}

// Address is a recipient or billing address.
type Address struct {
	Name       string `json:"name" validate:"required,max=200"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2" validate:"omitempty,max=200"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state" validate:"omitempty,max=100"`
	PostalCode string `json:"postalCode" validate:"required,max=16"`
	Country    string `json:"country" validate:"required,iso3166_1_alpha2"`
	Phone      string `json:"phone" validate:"omitempty,max=32"`
}

// Input is the checkout form.
type Input struct {
	Contact        Contact  `json:"contact"`
	Recipient      Address  `json:"recipient"`
	UseSameAddress bool     `json:"useSameAddress"`
	Billing        *Address `json:"billing,omitempty"`
	DeliveryType   string   `json:"deliveryType"`
}

// ValidationError lists the form fields that need attention.
type ValidationError struct {
	Fields []common.FieldError
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		names = append(names, f.Field)
	}
	return "checkout: invalid fields: " + strings.Join(names, ", ")
}

// AppError renders the error for HTTP responses.
func (e *ValidationError) AppError() *common.AppError {
	return common.NewValidationError(e.Fields)
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (a Address) normalised() Address {
	return Address{
		Name:       strings.TrimSpace(a.Name),
		Line1:      strings.TrimSpace(a.Line1),
		Line2:      strings.TrimSpace(a.Line2),
		City:       strings.TrimSpace(a.City),
		State:      strings.TrimSpace(a.State),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(a.Country)),
		Phone:      strings.TrimSpace(a.Phone),
	}
}

// normalise trims the form and drops the billing address when the recipient
// address is reused for billing.
func (in Input) normalise() Input {
	out := Input{
		Contact: Contact{
			Email:     strings.ToLower(strings.TrimSpace(in.Contact.Email)),
			FirstName: strings.TrimSpace(in.Contact.FirstName),
			LastName:  strings.TrimSpace(in.Contact.LastName),
			Phone:     strings.TrimSpace(in.Contact.Phone),
		},
		Recipient:      in.Recipient.normalised(),
		UseSameAddress: in.UseSameAddress,
		DeliveryType:   strings.TrimSpace(in.DeliveryType),
	}
	if !in.UseSameAddress && in.Billing != nil {
		b := in.Billing.normalised()
		out.Billing = &b
	}
	return out
}

// BillingAddress returns the address to bill.
func (in Input) BillingAddress() Address {
	if in.UseSameAddress || in.Billing == nil {
		return in.Recipient
	}
	return *in.Billing
}

func (s *Service) validateFields(in Input) []common.FieldError {
	var fields []common.FieldError
	if err := s.validator().Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return []common.FieldError{{Field: "form", Message: "is invalid"}}
		}
		for _, fe := range verrs {
			fields = append(fields, common.FieldError{Field: fieldPath(fe.Namespace()), Message: fieldMessage(fe)})
		}
	}
	if !in.UseSameAddress && in.Billing == nil {
		fields = append(fields, common.FieldError{Field: "billing", Message: "is required"})
	}
	return fields
}

// fieldPath strips the root struct name: "Input.recipient.city" -> "recipient.city".
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return "is too long"
	case "iso3166_1_alpha2":
		return "must be a two-letter country code"
	default:
		return "is invalid"
	}
}
