package config

import (
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
)

type rule struct {
	tag     string
	fn      validator.Func
	message string
}

var rules = []rule{
	{tag: "file", fn: isReadableFile, message: "{0} must be an existing and readable file"},
	{tag: "origin", fn: isOrigin, message: "{0} must be * or a scheme://host[:port] origin"},
}

// newValidator returns a validator that reports fields by their config keys
// and translates messages to English.
func newValidator() (*validator.Validate, ut.Translator, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	locale := en.New()
	translator, _ := ut.New(locale, locale).GetTranslator("en")
	if err := enTranslations.RegisterDefaultTranslations(validate, translator); err != nil {
		return nil, nil, fmt.Errorf("register default translations: %w", err)
	}

	for _, r := range rules {
		if err := validate.RegisterValidation(r.tag, r.fn); err != nil {
			return nil, nil, fmt.Errorf("register %s validation: %w", r.tag, err)
		}
		if err := validate.RegisterTranslation(r.tag, translator, registerMessage(r.tag, r.message), translateField(r.tag)); err != nil {
			return nil, nil, fmt.Errorf("register %s translation: %w", r.tag, err)
		}
	}
	return validate, translator, nil
}

func registerMessage(tag, message string) validator.RegisterTranslationsFunc {
	return func(trans ut.Translator) error {
		return trans.Add(tag, message, true)
	}
}

// translateField names the field by its dotted config key, e.g. report.template.
func translateField(tag string) validator.TranslationFunc {
	return func(trans ut.Translator, fe validator.FieldError) string {
		msg, _ := trans.T(tag, strings.TrimPrefix(fe.Namespace(), "Config."))
		return msg
	}
}

func isReadableFile(fl validator.FieldLevel) bool {
	path := fl.Field().String()
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o400 != 0
}

func isOrigin(fl validator.FieldLevel) bool {
	origin := fl.Field().String()
	if origin == "*" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" && (u.Path == "" || u.Path == "/")
}
