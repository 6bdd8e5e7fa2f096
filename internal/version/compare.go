package version

import (
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// CheckConfigCompatibility checks whether a config file written for
// configVersion can be loaded by an engine at engineVersion.
// Returns nil if compatible, an error with details if not.
//
// Compatibility Rules:
//   - If either version is "main" (development build), the check is skipped
//   - Major versions must match exactly
//   - The engine minor version must be >= the config minor version
//   - Patch versions can differ freely
func CheckConfigCompatibility(engineVersion, configVersion string) error {
	engineVersion = strings.TrimPrefix(engineVersion, "v")
	configVersion = strings.TrimPrefix(configVersion, "v")

	// Skip version check for "main" (development builds)
	if engineVersion == "main" || configVersion == "main" {
		return nil
	}

	engineSemver, err := semver.NewVersion(engineVersion)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeSchemaVersion, err, "invalid engine version %q", engineVersion)
	}

	configSemver, err := semver.NewVersion(configVersion)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeSchemaVersion, err, "invalid config schema version %q", configVersion)
	}

	if engineSemver.Major() != configSemver.Major() {
		return errors.Newf(errors.ErrCodeSchemaVersion,
			"major version mismatch: engine is %d.x.x but config requires %d.x.x",
			engineSemver.Major(), configSemver.Major())
	}

	if engineSemver.Minor() < configSemver.Minor() {
		return errors.Newf(errors.ErrCodeSchemaVersion,
			"config schema %d.%d.x is newer than engine %d.%d.x",
			configSemver.Major(), configSemver.Minor(),
			engineSemver.Major(), engineSemver.Minor())
	}

	return nil
}
