package enrich

import (
	"strings"

	"github.com/sells-group/awardsync/internal/match"
	"github.com/sells-group/awardsync/internal/model"
)

// DefaultAgencySources maps agency codes to the external source that holds
// metadata for their awards. Config may extend or override this table.
func DefaultAgencySources() map[string]string {
	return map[string]string{
		"NIH": "nih",
		"NSF": "nsf",
	}
}

// resolveSource maps an award's agency code to a registered source code.
// Returns "" when no mapping exists.
func (o *Orchestrator) resolveSource(a model.Award) string {
	return o.agencySources[strings.ToUpper(strings.TrimSpace(a.AgencyCode))]
}

// resolveKey derives the external lookup key for an award, in priority
// order: UEI, then award number, then a composite built from the normalized
// recipient name. Returns "" when no key can be derived.
func resolveKey(a model.Award) string {
	if uei := strings.TrimSpace(a.UEI); uei != "" {
		return uei
	}
	if num := strings.TrimSpace(a.AwardNumber); num != "" {
		return num
	}
	if name := match.NormalizeName(a.RecipientName); name != "" {
		return "name:" + name
	}
	return ""
}
