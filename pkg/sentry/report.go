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

	"go.uber.org/zap"
)

type IssueType string

const (
	IssueTypeWarning IssueType = "warning"
	IssueTypeError   IssueType = "error"
	IssueTypeFatal   IssueType = "fatal"
)

func ReportIssue(err error, issueType IssueType, log *zap.SugaredLogger) {
	ReportIssueWithContext(err, issueType, log, nil)
}

func ReportIssuef(issueType IssueType, log *zap.SugaredLogger, template string, args ...interface{}) {
	ReportIssue(fmt.Errorf(template, args...), issueType, log)
}

// ReportIssueWithContext reports an issue with additional context data that will be included in Sentry.
func ReportIssueWithContext(err error, issueType IssueType, log *zap.SugaredLogger, context map[string]interface{}) {
	if err == nil {
		return
	}

	if log == nil {
		log = zap.NewNop().Sugar()
	}

	switch issueType {
	case IssueTypeFatal:
		reportFatal(err, log, context)
	case IssueTypeError:
		reportError(err, log, context)
	case IssueTypeWarning:
		reportWarning(err, log, context)
	}
}

// ReportUnitError reports a failed lifecycle operation of a single unit.
// Unit failures are isolated by the orchestrator, so they go out as warnings.
func ReportUnitError(log *zap.SugaredLogger, unitID string, operation string, err error) {
	context := map[string]interface{}{
		"unit_id":   unitID,
		"operation": operation,
	}
	ReportIssueWithContext(err, IssueTypeWarning, log, context)
}

// ReportComponentErrorf formats an error raised by one of the orchestrator's
// own components and reports it with the component as context.
func ReportComponentErrorf(log *zap.SugaredLogger, component string, operation string, template string, args ...interface{}) {
	context := map[string]interface{}{
		"component": component,
		"operation": operation,
	}
	ReportIssueWithContext(fmt.Errorf(template, args...), IssueTypeError, log, context)
}
