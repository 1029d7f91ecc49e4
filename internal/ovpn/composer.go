// Package ovpn composes OpenVPN client configurations from prioritized template
// fragments and named option sets loaded once at startup.
package ovpn

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"unicode"

	"go.uber.org/zap"
)

const (
	// DefaultGroup is the template group used when no user group matches
	DefaultGroup = "default"
	// DefaultOptionSet is the option set used when the requested one is unknown
	DefaultOptionSet = "default"
	// Placeholder is replaced with the option set text before rendering
	Placeholder = "{{ optionset }}"
)

var (
	// ErrConfiguration means the template or option set sources are unusable at startup
	ErrConfiguration = errors.New("ovpn configuration error")
	// ErrTemplateConfiguration means no template or option set can serve a request
	ErrTemplateConfiguration = errors.New("ovpn template configuration error")
	// ErrTemplateRender means the composed template failed to parse or execute
	ErrTemplateRender = errors.New("ovpn template render error")
)

// Template is a configuration fragment that applies to one group
type Template struct {
	Priority int
	Group    string
	FileName string
	Content  string
}

// OptionSets maps an option set name to its text
type OptionSets map[string]string

// RenderContext is the data a template is executed against
type RenderContext map[string]any

// Composer selects and renders templates. It is immutable and safe for concurrent use.
type Composer struct {
	templates  []Template
	optionSets OptionSets
	logger     *zap.Logger
}

// New creates a Composer from already loaded fragments. Templates are ordered by
// ascending priority, ties broken by file name.
func New(templates []Template, optionSets OptionSets, logger *zap.Logger) *Composer {
	sorted := append([]Template(nil), templates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].FileName < sorted[j].FileName
	})

	sets := make(OptionSets, len(optionSets))
	for k, v := range optionSets {
		sets[k] = v
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Composer{templates: sorted, optionSets: sets, logger: logger}
}

// Templates returns the loaded templates in matching order
func (c *Composer) Templates() []Template {
	return append([]Template(nil), c.templates...)
}

// OptionSetNames returns the sorted names of the loaded option sets
func (c *Composer) OptionSetNames() []string {
	names := make([]string, 0, len(c.optionSets))
	for name := range c.optionSets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SelectTemplate returns the first template, by priority, whose group matches any
// of the user's groups case-insensitively, falling back to the default template.
func (c *Composer) SelectTemplate(groups []string) (*Template, error) {
	userGroups := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		userGroups[strings.ToLower(g)] = struct{}{}
	}

	for i := range c.templates {
		if _, ok := userGroups[strings.ToLower(c.templates[i].Group)]; ok {
			return &c.templates[i], nil
		}
	}

	for i := range c.templates {
		if c.templates[i].Group == DefaultGroup {
			return &c.templates[i], nil
		}
	}

	return nil, fmt.Errorf("%w: no %q template found", ErrTemplateConfiguration, DefaultGroup)
}

// SelectOptionSet returns the name and text of the requested option set, or of
// the default set when the requested one is not loaded.
func (c *Composer) SelectOptionSet(name string) (string, string, error) {
	if content, ok := c.optionSets[name]; ok {
		return name, content, nil
	}
	if content, ok := c.optionSets[DefaultOptionSet]; ok {
		return DefaultOptionSet, content, nil
	}
	return "", "", fmt.Errorf("%w: no %q option set found", ErrTemplateConfiguration, DefaultOptionSet)
}

// Compose combines a template with an option set. Every placeholder is replaced
// with the option set text; a template without a placeholder gets the option set
// prepended on its own line.
func Compose(templateContent, optionSet string) string {
	if strings.Contains(templateContent, Placeholder) {
		return strings.ReplaceAll(templateContent, Placeholder, optionSet)
	}
	return optionSet + "\n" + templateContent
}

// Render selects a template for the user's groups, composes it with the option
// set named by ctx["optionset_name"] and executes it against ctx. It returns the
// document and the name of the option set actually used.
func (c *Composer) Render(groups []string, ctx RenderContext) (string, string, error) {
	tpl, err := c.SelectTemplate(groups)
	if err != nil {
		return "", "", err
	}

	requested, _ := ctx["optionset_name"].(string)
	if requested == "" {
		requested = DefaultOptionSet
	}
	optionSetName, optionSet, err := c.SelectOptionSet(requested)
	if err != nil {
		return "", "", err
	}

	data := make(RenderContext, len(ctx)+1)
	for k, v := range ctx {
		data[k] = v
	}
	data["optionset_name"] = optionSetName

	combined := Compose(tpl.Content, optionSet)
	c.logger.Debug("Combined pre-render template",
		zap.String("template", tpl.FileName),
		zap.String("optionset", optionSetName),
		zap.String("content", combined),
	)

	parsed, err := template.New(tpl.FileName).
		Option("missingkey=error").
		Funcs(contextFuncs(data)).
		Parse(combined)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	var buf bytes.Buffer
	if err := parsed.Execute(&buf, map[string]any(data)); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	c.logger.Info("Rendered configuration",
		zap.Any("common_name", data["common_name"]),
		zap.String("template", tpl.FileName),
		zap.String("optionset", optionSetName+".opts"),
	)

	return buf.String(), optionSetName, nil
}

// contextFuncs exposes every context key as a niladic function, so a template
// may write {{subject}} as well as {{.subject}}
func contextFuncs(data RenderContext) template.FuncMap {
	funcs := make(template.FuncMap, len(data))
	for k, v := range data {
		if !isIdentifier(k) {
			continue
		}
		value := v
		funcs[k] = func() any { return value }
	}
	return funcs
}

func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', unicode.IsLetter(r):
		case unicode.IsDigit(r) && i > 0:
		default:
			return false
		}
	}
	return true
}
