// Package source turns host boot notifications into events for the dispatch
// queue. Notifications arrive as action strings (from the HTTP surface or the
// CLI) or as OS signals delivered to the running service.
package source

import "strings"

// Event kinds produced by this package.
const (
	KindBootCompleted       = "boot_completed"
	KindLockedBootCompleted = "locked_boot_completed"
	KindQuickbootPoweron    = "quickboot_poweron"
)

var bootActions = map[string]string{
	"android.intent.action.BOOT_COMPLETED":        KindBootCompleted,
	"android.intent.action.LOCKED_BOOT_COMPLETED": KindLockedBootCompleted,
	"android.intent.action.QUICKBOOT_POWERON":     KindQuickbootPoweron,
	"com.htc.intent.action.QUICKBOOT_POWERON":     KindQuickbootPoweron,
	KindBootCompleted:                             KindBootCompleted,
	KindLockedBootCompleted:                       KindLockedBootCompleted,
	KindQuickbootPoweron:                          KindQuickbootPoweron,
}

// IsBootAction reports whether action is one of the accepted boot actions.
func IsBootAction(action string) bool {
	_, ok := KindFor(action)
	return ok
}

// KindFor maps an accepted action to its event kind. Fully qualified actions
// must match exactly; short aliases are matched case-insensitively.
func KindFor(action string) (string, bool) {
	action = strings.TrimSpace(action)
	if kind, ok := bootActions[action]; ok {
		return kind, true
	}
	if strings.Contains(action, ".") {
		return "", false
	}
	kind, ok := bootActions[strings.ToLower(action)]
	return kind, ok
}
