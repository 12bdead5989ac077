package service

import (
	"errors"

	"github.com/minios-linux/glossa/dispatch"
	"github.com/minios-linux/glossa/i18n"
)

// UserMessage turns a translation failure into a localized message safe
// to show to end users.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrEmptyImage) {
		return i18n.T("The image is empty")
	}

	switch dispatch.KindOf(err) {
	case dispatch.KindEmptyInput:
		return i18n.T("Please enter text to translate")
	case dispatch.KindNoCredentials:
		return i18n.T("No API keys configured. Add one with \"glossa keys add\".")
	case dispatch.KindExhausted, dispatch.KindRateLimited:
		return i18n.T("All API keys are rate limited or failing. Try again later.")
	case dispatch.KindTimeout:
		return i18n.T("Translation timed out.")
	case dispatch.KindNetworkFailure:
		return i18n.T("The translation service is unavailable. Check your network connection.")
	case dispatch.KindUpstreamError, dispatch.KindParseFailure:
		return i18n.T("Translation failed.") + " " + err.Error()
	}
	return i18n.T("Translation failed.")
}
