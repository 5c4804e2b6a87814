// Package media holds helpers shared by nodes that pass image and video references around.
package media

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/canvasflow/pkg/executor"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/go-playground/validator/v10"
)

// ErrMissingURL is returned when no media URL is configured or connected.
var ErrMissingURL = errors.New("missing media url")

var validate = validator.New()

// URL resolves a media URL stored under key. It looks at the input handle
// named key, then at key in the default input bundle, then at config (key or
// its camelCase alias). The result must be an absolute URL or a data URI.
func URL(config, inputs map[string]any, key string) (string, error) {
	raw, ok := executor.Resolve(config, inputs, key, key)
	if !ok {
		if upstream, found := inputs[models.DefaultHandle].(map[string]any); found {
			raw, ok = upstream[key], upstream[key] != nil
		}
	}

	if !ok {
		raw, ok = config[camel(key)]
	}

	if bundle, isBundle := raw.(map[string]any); isBundle {
		raw, _ = executor.Text(bundle)
	}

	s, isString := raw.(string)
	if !ok || !isString || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingURL, key)
	}

	s = strings.TrimSpace(s)
	if err := validate.Var(s, "url|datauri"); err != nil {
		return "", fmt.Errorf("invalid %s %q", key, s)
	}

	return s, nil
}

func camel(key string) string {
	parts := strings.Split(key, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}

	return strings.Join(parts, "")
}
