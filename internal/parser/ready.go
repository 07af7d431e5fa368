package parser

import (
	"regexp"
	"strings"
)

// A widget must announce initialization by posting a message whose type
// field carries the literal READY. Models write the call in several
// spellings, so detection is a small set of hand-written variants
// covering quoted/unquoted keys and either key ordering.
var readyPatterns = []*regexp.Regexp{
	// postMessage({ type: 'READY' ... }) - unquoted key
	regexp.MustCompile(`postMessage\s*\(\s*\{[^{}]*\btype\s*:\s*['"][\w-]*READY['"]`),
	// postMessage({ "type": "READY" ... }) - quoted key
	regexp.MustCompile(`postMessage\s*\(\s*\{[^{}]*['"]type['"]\s*:\s*['"][\w-]*READY['"]`),
	// postMessage({ ... 'READY' ... type ... }) - value before key
	regexp.MustCompile(`postMessage\s*\(\s*\{[^{}]*['"][\w-]*READY['"][^{}]*\btype\b`),
}

// readySnippet is the minimal handshake injected during recovery.
const readySnippet = `window.parent.postMessage({ type: 'READY' }, '*');`

// HasReadySignal reports whether the markup contains an accepted
// startup-handshake pattern.
func HasReadySignal(markup string) bool {
	for _, re := range readyPatterns {
		if re.MatchString(markup) {
			return true
		}
	}
	return false
}

// EnsureReady injects a minimal READY handshake when the markup lacks
// one. Preferred insertion points, in order: before the last closing
// script tag, before the closing body tag, appended at the end. The
// call is idempotent; markup that already signals READY is returned
// unchanged.
func EnsureReady(markup string) (string, bool) {
	if HasReadySignal(markup) {
		return markup, false
	}

	lower := strings.ToLower(markup)

	if idx := strings.LastIndex(lower, "</script>"); idx != -1 {
		return markup[:idx] + "\n" + readySnippet + "\n" + markup[idx:], true
	}
	if idx := strings.LastIndex(lower, "</body>"); idx != -1 {
		injected := "<script>" + readySnippet + "</script>\n"
		return markup[:idx] + injected + markup[idx:], true
	}
	return markup + "\n<script>" + readySnippet + "</script>", true
}
