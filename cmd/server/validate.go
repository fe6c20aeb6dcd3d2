package main

import (
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/nickyhof/GlobalDB/core"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validateReference(fl validator.FieldLevel) bool {
	_, err := core.ParseReference(fl.Field().String())
	return err == nil
}

// Validator returns the shared validator for requests and configuration.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		if err := validate.RegisterValidation("globalref", validateReference); err != nil {
			panic("failed to register validation: " + err.Error())
		}
	})
	return validate
}
