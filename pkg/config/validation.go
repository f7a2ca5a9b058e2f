package config

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/trustkit/pkg/digest"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("digestalg", validateDigestAlgorithm)
		validate.RegisterStructValidation(credentialStructLevel, CredentialConfig{})
	})
	return validate
}

// validateDigestAlgorithm implements the "digestalg" tag.
func validateDigestAlgorithm(fl validator.FieldLevel) bool {
	_, err := digest.ParseAlgorithm(fl.Field().String())
	return err == nil
}

// credentialStructLevel enforces the rules that depend on the role.
func credentialStructLevel(sl validator.StructLevel) {
	cc := sl.Current().Interface().(CredentialConfig)
	if cc.Mechanism != MechanismNegotiatedContext || cc.Context == nil {
		return
	}

	ctx := cc.Context
	switch cc.Role {
	case RoleAcceptor:
		if ctx.KeytabPath == "" {
			sl.ReportError(ctx.KeytabPath, "KeytabPath", "keytab_path", "required_for_acceptor", "")
		}
	case RoleInitiator:
		if ctx.TicketPath == "" && ctx.CCachePath == "" {
			sl.ReportError(ctx.TicketPath, "TicketPath", "ticket_path", "required_for_initiator", "")
		}
		if ctx.TicketPath != "" && ctx.CCachePath != "" {
			sl.ReportError(ctx.CCachePath, "CCachePath", "ccache_path", "excluded_with_ticket", "")
		}
	}
}

// Validate checks the whole configuration.
func Validate(cfg *Config) error {
	if err := getValidator().Struct(cfg); err != nil {
		return err
	}
	// The credential section is validated with the top-level mechanism and role.
	return ValidateCredential(cfg.CredentialConfig())
}

// ValidateCredential checks a credential section on its own.
func ValidateCredential(cfg *CredentialConfig) error {
	if cfg == nil {
		return fmt.Errorf("credential configuration is nil")
	}
	return getValidator().Struct(cfg)
}
