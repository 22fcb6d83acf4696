// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package env

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// GetAsString retrieves an environment variable as a string.
// If required is true and the variable is not set, an error is returned.
// If not required and not set, defaultValue is returned.
func GetAsString(key string, required bool, defaultValue string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		if required {
			return "", fmt.Errorf("required environment variable %s is not set", key)
		}

		return defaultValue, nil
	}

	return value, nil
}

// GetAsBool retrieves an environment variable as a boolean.
// Accepts true/false, 1/0, yes/no, y/n and on/off in any case.
func GetAsBool(key string, required bool, defaultValue bool) (bool, error) {
	value, err := GetAsString(key, required, "")
	if err != nil {
		return false, err
	}

	if value == "" {
		return defaultValue, nil
	}

	switch strings.ToLower(value) {
	case "true", "1", "yes", "y", "on":
		return true, nil
	case "false", "0", "no", "n", "off":
		return false, nil
	default:
		if required {
			return false, fmt.Errorf("environment variable %s must be a boolean value", key)
		}

		return defaultValue, nil
	}
}

// GetAsDuration retrieves an environment variable as a time.Duration in
// time.ParseDuration syntax.
func GetAsDuration(key string, required bool, defaultValue time.Duration) (time.Duration, error) {
	value, err := GetAsString(key, required, "")
	if err != nil {
		return 0, err
	}

	if value == "" {
		return defaultValue, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		if required {
			return 0, fmt.Errorf("environment variable %s must be a duration: %w", key, err)
		}

		return defaultValue, nil
	}

	return d, nil
}

// GetAsList splits a comma separated environment variable. Empty elements
// are dropped.
func GetAsList(key string, required bool) ([]string, error) {
	value, err := GetAsString(key, required, "")
	if err != nil {
		return nil, err
	}

	var out []string

	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out, nil
}
