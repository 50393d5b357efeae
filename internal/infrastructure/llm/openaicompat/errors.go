package openaicompat

import (
	"regexp"
	"strconv"

	"github.com/kirillkom/manual-assistant/internal/infrastructure/resilience"
)

// langchaingo reports HTTP failures as text, e.g.
// "API returned unexpected status code: 503: upstream busy".
var statusPattern = regexp.MustCompile(`status code: (\d{3})`)

func statusFromError(err error) int {
	m := statusPattern.FindStringSubmatch(err.Error())
	if len(m) != 2 {
		return 0
	}
	code, _ := strconv.Atoi(m[1])
	return code
}

func classifyError(err error) resilience.ErrorClassification {
	if class, ok := resilience.ClassifyCommon(err); ok {
		return class
	}
	if code := statusFromError(err); code != 0 {
		return resilience.ClassifyHTTPStatus(code)
	}
	return resilience.Permanent
}

func wrapExternalIfNeeded(operation string, err error) error {
	return resilience.WrapExternal(operation, err)
}
