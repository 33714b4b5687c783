package instance

import (
	"cmp"
	"fmt"
	"regexp"

	"github.com/matheus3301/relay/internal/config"
)

// DefaultName is served when neither a flag nor the config names an instance.
const DefaultName = "main"

// maxSocketPath is the smallest sun_path across supported platforms (macOS).
const maxSocketPath = 103

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Resolve picks the instance from the --instance flag, then default_instance
// (config.toml or RELAY_DEFAULT_INSTANCE), then DefaultName, and validates it.
func Resolve(flagValue string) (string, error) {
	name := flagValue
	if name == "" {
		cfg, err := config.LoadEffective(ConfigPath())
		if err != nil {
			return "", err
		}
		name = cmp.Or(cfg.DefaultInstance, DefaultName)
	}
	return name, ValidateName(name)
}

// ValidateName checks that name is a single lowercase path element and that
// the instance socket fits in a unix socket address under the current BaseDir.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid instance name %q: use lowercase letters, digits, '-' or '_', starting with a letter or digit", name)
	}
	if p := SocketPath(name); len(p) > maxSocketPath {
		return fmt.Errorf("instance name %q is too long: socket path %s exceeds %d bytes", name, p, maxSocketPath)
	}
	return nil
}
