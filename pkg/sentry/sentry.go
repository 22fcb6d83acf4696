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

package sentry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/constants"
)

// fingerprintKeys are the context keys that take part in grouping.
var fingerprintKeys = map[string]bool{
	"operation": true,
	"unit_id":   true,
	"component": true,
}

var shouldDebounceErrors = true

// EnableTestMode disables debouncing for testing.
func EnableTestMode() {
	shouldDebounceErrors = false
}

// DisableTestMode restores normal debouncing behavior.
func DisableTestMode() {
	shouldDebounceErrors = true
}

// InitSentry initializes the sentry client. An empty dsn or the development
// version leaves sentry disabled; reports are then only logged.
func InitSentry(appVersion string, dsn string, debounceErrors bool) {
	shouldDebounceErrors = debounceErrors

	if dsn == "" || appVersion == "" || appVersion == constants.DefaultAppVersion {
		zap.S().Debug("Sentry disabled for local development build")

		return
	}

	environment := Environment(appVersion)

	err := sentry.Init(sentry.ClientOptions{
		Dsn:           dsn,
		Environment:   environment,
		Release:       "unit-orchestrator@" + appVersion,
		EnableTracing: false,
	})
	if err != nil {
		zap.S().Errorf("Failed to initialize Sentry: %s", err)
	}
}

// Environment maps a release version to a sentry environment. Pre-releases
// and unparsable versions are development builds.
func Environment(appVersion string) string {
	version, err := semver.NewVersion(appVersion)
	if err != nil {
		return constants.DefaultDevelopmentEnvironment
	}

	if version.Prerelease() != "" {
		return constants.DefaultDevelopmentEnvironment
	}

	return constants.DefaultProductionEnvironment
}

func meaningfulErrorTitle(err error) string {
	message := err.Error()

	// first phrase, up to a period, comma or colon
	if idx := strings.IndexAny(message, ".,:"); idx > 0 {
		message = message[:idx]
	}

	if len(message) > 100 {
		message = message[:97] + "..."
	}

	return message
}

func createSentryEvent(level sentry.Level, err error) *sentry.Event {
	event := sentry.NewEvent()
	event.Level = level
	event.Message = err.Error()
	event.Exception = []sentry.Exception{{
		Type:       meaningfulErrorTitle(err),
		Value:      err.Error(),
		Stacktrace: sentry.ExtractStacktrace(err),
	}}

	if level == sentry.LevelFatal || level == sentry.LevelError {
		threads, stacktrace := captureGoroutinesAsThreads()
		event.Threads = threads
		event.Attachments = append(event.Attachments, &sentry.Attachment{
			Filename:    "stacktrace.txt",
			ContentType: "text/plain",
			Payload:     stacktrace,
		})
	}

	event.Fingerprint = []string{"{{ default }}", "level: " + string(level)}

	return event
}

// createSentryEventWithContext adds context as tags. Non-scalar values go to
// the extra data instead.
func createSentryEventWithContext(level sentry.Level, err error, context map[string]interface{}) *sentry.Event {
	event := createSentryEvent(level, err)
	if len(context) == 0 {
		return event
	}

	event.Tags = make(map[string]string, len(context))

	keys := make([]string, 0, len(context))
	for key := range context {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		value := context[key]

		switch v := value.(type) {
		case string:
			event.Tags[key] = v
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
			event.Tags[key] = fmt.Sprintf("%v", v)
		default:
			if event.Extra == nil {
				event.Extra = make(map[string]interface{})
			}

			event.Extra[key] = v
		}

		if fingerprintKeys[key] {
			event.Fingerprint = append(event.Fingerprint, fmt.Sprintf("%s: %v", key, value))
		}
	}

	return event
}

func sendSentryEvent(event *sentry.Event) {
	localHub := sentry.CurrentHub().Clone()
	localHub.CaptureEvent(event)
}
