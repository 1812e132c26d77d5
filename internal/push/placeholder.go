package push

import (
	"sort"
	"strings"
	"time"

	"github.com/dukerupert/mealminder/internal/model"
)

const fallbackName = "there"

// Vars builds the placeholder values for user at now. extra overrides the
// defaults.
func Vars(user model.UserPreference, now time.Time, extra map[string]string) map[string]string {
	local := now.In(user.Location())
	name := user.FirstName()
	if name == "" {
		name = fallbackName
	}
	vars := map[string]string{
		"name":        name,
		"currentTime": local.Format("15:04"),
		"date":        local.Format("2006-01-02"),
	}
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}

// MealVars returns the type-specific placeholders for a meal slot.
func MealVars(user model.UserPreference, slot model.MealSlot) map[string]string {
	return map[string]string{
		"mealName": slot.DisplayName(),
		"mealTime": user.MealTime(slot),
	}
}

// Render replaces {key} tokens in tmpl. Unknown tokens are left as written.
func Render(tmpl string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(tmpl, "{") {
		return tmpl
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// MaskToken shortens a device token for logs.
func MaskToken(token string) string {
	if len(token) <= 12 {
		return "***"
	}
	return token[:6] + "..." + token[len(token)-4:]
}
