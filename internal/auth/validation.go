package auth

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/holaholidays/internal/model"
)

const (
	minPasswordLength  = 8
	minCustomerNameLen = 2
	minAdminNameLen    = 3
	maxNameLen         = 100
	maxAddressLen      = 100
	maxEmailLen        = 255
	maxCountryLen      = 64
)

// maxPasswordBytes はbcryptが扱える入力の上限。
const maxPasswordBytes = 72

var telephonePattern = regexp.MustCompile(`^[0-9]{10,15}$`)

var validGenders = map[string]bool{
	"Male":   true,
	"Female": true,
	"Other":  true,
}

// RegisterInput は登録リクエストの入力値。
// Customer は FirstName/LastName/Gender/Country を、Admin は Name を使用する。
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Name      string
	Telephone string
	Address   string
	Gender    string
	Country   string
	Pic       string
}

// ProfileUpdate はプロフィール更新の入力値。nilの項目は変更しない。
type ProfileUpdate struct {
	Email     *string
	Password  *string
	FirstName *string
	LastName  *string
	Name      *string
	Telephone *string
	Address   *string
	Gender    *string
	Country   *string
	Pic       *string
}

// changesCredentials はメールアドレスまたはパスワードの変更を含むかを返す。
func (u ProfileUpdate) changesCredentials() bool {
	return u.Email != nil || u.Password != nil
}

func validateEmail(email string) *model.APIError {
	if email == "" {
		return model.NewValidationError("email is required")
	}
	if len(email) > maxEmailLen {
		return model.NewValidationError("email is too long")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return model.NewValidationError("email is invalid")
	}
	return nil
}

func validatePassword(password string) *model.APIError {
	if password == "" {
		return model.NewValidationError("password is required")
	}
	if utf8.RuneCountInString(password) < minPasswordLength {
		return model.NewValidationError("password must be at least 8 characters")
	}
	if len(password) > maxPasswordBytes {
		return model.NewValidationError("password must be at most 72 bytes")
	}
	return nil
}

func validateName(field, value string, minLen int) *model.APIError {
	n := utf8.RuneCountInString(value)
	if n == 0 {
		return model.NewValidationError(field + " is required")
	}
	if n < minLen {
		return model.NewValidationError(field + " is too short")
	}
	if n > maxNameLen {
		return model.NewValidationError(field + " is too long")
	}
	return nil
}

func validateTelephone(telephone string, required bool) *model.APIError {
	if telephone == "" {
		if required {
			return model.NewValidationError("telephone is required")
		}
		return nil
	}
	if !telephonePattern.MatchString(telephone) {
		return model.NewValidationError("telephone must be 10 to 15 digits")
	}
	return nil
}

func validateAddress(address string) *model.APIError {
	if utf8.RuneCountInString(address) > maxAddressLen {
		return model.NewValidationError("address must be at most 100 characters")
	}
	return nil
}

func validateGender(gender string) *model.APIError {
	if !validGenders[gender] {
		return model.NewValidationError("gender must be Male, Female or Other")
	}
	return nil
}

func validateCountry(country string) *model.APIError {
	if country == "" {
		return model.NewValidationError("country is required")
	}
	if utf8.RuneCountInString(country) > maxCountryLen {
		return model.NewValidationError("country is too long")
	}
	return nil
}

// validateRegisterInput は種別ごとの登録入力を検証する。入力は正規化済みであること。
func validateRegisterInput(kind model.PrincipalKind, in RegisterInput) *model.APIError {
	if err := validateEmail(in.Email); err != nil {
		return err
	}
	if err := validatePassword(in.Password); err != nil {
		return err
	}

	switch kind {
	case model.KindCustomer:
		if err := validateName("firstName", in.FirstName, minCustomerNameLen); err != nil {
			return err
		}
		if err := validateName("lastName", in.LastName, minCustomerNameLen); err != nil {
			return err
		}
		if err := validateTelephone(in.Telephone, true); err != nil {
			return err
		}
		if err := validateAddress(in.Address); err != nil {
			return err
		}
		if err := validateGender(in.Gender); err != nil {
			return err
		}
		if err := validateCountry(in.Country); err != nil {
			return err
		}
	case model.KindAdmin:
		if err := validateName("name", in.Name, minAdminNameLen); err != nil {
			return err
		}
		if err := validateTelephone(in.Telephone, false); err != nil {
			return err
		}
		if err := validateAddress(in.Address); err != nil {
			return err
		}
	}
	return nil
}
