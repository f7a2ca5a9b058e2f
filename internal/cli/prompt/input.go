package prompt

import (
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
)

// Input asks for a line of text, offering def.
func Input(label, def string) (string, error) {
	p := promptui.Prompt{Label: label, Default: def}
	out, err := p.Run()
	return strings.TrimSpace(out), wrapError(err)
}

// InputRequired asks for a non-empty line of text.
func InputRequired(label, def string) (string, error) {
	p := promptui.Prompt{
		Label:   label,
		Default: def,
		Validate: func(s string) error {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("%s is required", strings.ToLower(label))
			}
			return nil
		},
	}
	out, err := p.Run()
	return strings.TrimSpace(out), wrapError(err)
}
