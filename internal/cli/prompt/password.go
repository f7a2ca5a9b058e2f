package prompt

import (
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"
)

// ErrPasswordMismatch is returned when the confirmation differs.
var ErrPasswordMismatch = errors.New("passwords do not match")

// Password reads a masked secret.
func Password(label string) (string, error) {
	p := promptui.Prompt{Label: label, Mask: '*'}
	out, err := p.Run()
	return out, wrapError(err)
}

// NewPassword reads a secret of at least minLength characters twice.
func NewPassword(label string, minLength int) (string, error) {
	p := promptui.Prompt{
		Label: label,
		Mask:  '*',
		Validate: func(s string) error {
			if len(s) < minLength {
				return fmt.Errorf("must be at least %d characters", minLength)
			}
			return nil
		},
	}
	first, err := p.Run()
	if err != nil {
		return "", wrapError(err)
	}
	again, err := Password("Confirm " + label)
	if err != nil {
		return "", err
	}
	if first != again {
		return "", ErrPasswordMismatch
	}
	return first, nil
}
