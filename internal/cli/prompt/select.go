package prompt

import (
	"github.com/manifoldco/promptui"
)

// Option is one choice of a Select prompt.
type Option struct {
	Label       string
	Value       string
	Description string
}

// Select asks the user to pick one of options and returns its Value.
func Select(label string, options []Option) (string, error) {
	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "> {{ .Label | cyan }}",
		Inactive: "  {{ .Label }}",
		Selected: "* {{ .Label | green }}",
		Details:  `{{ .Description | faint }}`,
	}
	p := promptui.Select{
		Label:     label,
		Items:     options,
		Templates: templates,
		Size:      len(options),
	}
	i, _, err := p.Run()
	if err != nil {
		return "", wrapError(err)
	}
	return options[i].Value, nil
}
