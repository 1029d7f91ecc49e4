package ovpn

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	templateExt  = ".ovpn"
	optionSetExt = ".opts"
)

// Load reads templates and option sets from the given directories and builds a
// Composer. It fails with ErrConfiguration if there is no default template or no
// default option set.
func Load(fs afero.Fs, templatesDir, optionSetsDir string, logger *zap.Logger) (*Composer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	templates, err := LoadTemplates(fs, templatesDir, logger)
	if err != nil {
		return nil, err
	}

	optionSets, err := LoadOptionSets(fs, optionSetsDir, logger)
	if err != nil {
		return nil, err
	}

	return New(templates, optionSets, logger), nil
}

// LoadTemplates reads every "<priority>.<group>.ovpn" file in dir
func LoadTemplates(fs afero.Fs, dir string, logger *zap.Logger) ([]Template, error) {
	logger.Info("Loading OVPN templates", zap.String("path", dir))

	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read template directory %s: %v", ErrConfiguration, dir, err)
	}

	var templates []Template
	hasDefault := false
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), templateExt) {
			continue
		}

		priority, group, ok := parseTemplateName(entry.Name())
		if !ok {
			logger.Warn("Skipping template with invalid name", zap.String("file", entry.Name()))
			continue
		}

		content, err := afero.ReadFile(fs, filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read template %s: %v", ErrConfiguration, entry.Name(), err)
		}

		if group == DefaultGroup {
			hasDefault = true
		}
		templates = append(templates, Template{
			Priority: priority,
			Group:    group,
			FileName: entry.Name(),
			Content:  string(content),
		})
	}

	if len(templates) == 0 {
		return nil, fmt.Errorf("%w: no templates found in %s", ErrConfiguration, dir)
	}
	if !hasDefault {
		return nil, fmt.Errorf("%w: no %q template found in %s", ErrConfiguration, DefaultGroup, dir)
	}

	logger.Debug("Loaded templates", zap.Int("count", len(templates)))
	return templates, nil
}

// LoadOptionSets reads every "<name>.opts" file in dir, keyed by name
func LoadOptionSets(fs afero.Fs, dir string, logger *zap.Logger) (OptionSets, error) {
	logger.Info("Loading OVPN option sets", zap.String("path", dir))

	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read option set directory %s: %v", ErrConfiguration, dir, err)
	}

	optionSets := make(OptionSets)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), optionSetExt) {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), optionSetExt)
		content, err := afero.ReadFile(fs, filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read option set %s: %v", ErrConfiguration, entry.Name(), err)
		}
		optionSets[name] = string(content)
	}

	if _, ok := optionSets[DefaultOptionSet]; !ok {
		return nil, fmt.Errorf("%w: no '%s%s' file found in %s", ErrConfiguration, DefaultOptionSet, optionSetExt, dir)
	}

	logger.Debug("Loaded option sets", zap.Int("count", len(optionSets)))
	return optionSets, nil
}

// parseTemplateName splits "<priority>.<group>.ovpn"
func parseTemplateName(name string) (int, string, bool) {
	stem := strings.TrimSuffix(name, templateExt)
	prefix, group, found := strings.Cut(stem, ".")
	if !found || prefix == "" || group == "" {
		return 0, "", false
	}
	for _, r := range prefix {
		if r < '0' || r > '9' {
			return 0, "", false
		}
	}
	priority, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, "", false
	}
	return priority, group, true
}
