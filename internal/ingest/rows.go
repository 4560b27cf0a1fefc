// Package ingest parses award archives and delayed feed files into award
// records and loads them into the store.
package ingest

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/awardsync/internal/model"
)

// headerAliases maps the column names seen across agency exports onto the
// canonical award fields.
var headerAliases = map[string]string{
	"id":                        "id",
	"record_id":                 "id",
	"award_id":                  "id",
	"period_id":                 "period_id",
	"period":                    "period_id",
	"fiscal_year":               "period_id",
	"agency":                    "agency_code",
	"agency_code":               "agency_code",
	"awarding_agency_code":      "agency_code",
	"uei":                       "uei",
	"recipient_uei":             "uei",
	"award_number":              "award_number",
	"award_no":                  "award_number",
	"federal_award_id":          "award_number",
	"recipient":                 "recipient_name",
	"recipient_name":            "recipient_name",
	"recipient_address":         "recipient_address",
	"address":                   "recipient_address",
	"amount":                    "amount_usd",
	"amount_usd":                "amount_usd",
	"federal_action_obligation": "amount_usd",
}

// RowMapper maps one file's header layout onto award fields.
type RowMapper struct {
	idx map[string]int
}

// NewRowMapper resolves the header's columns through the alias table.
// Returns an error if no identifier column is present, since rows without
// ids cannot be deduplicated or upserted.
func NewRowMapper(header []string) (*RowMapper, error) {
	idx := make(map[string]int)
	for i, col := range header {
		canonical, ok := headerAliases[normalizeHeader(col)]
		if !ok {
			continue
		}
		if _, seen := idx[canonical]; !seen {
			idx[canonical] = i
		}
	}
	if _, ok := idx["id"]; !ok {
		return nil, eris.Errorf("ingest: no identifier column in header %v", header)
	}
	return &RowMapper{idx: idx}, nil
}

// Award builds an award from one data row. periodID overrides any period
// column, since the archive itself is already period-scoped. Rows missing
// an id or agency code are malformed.
func (m *RowMapper) Award(fields []string, periodID string) (model.Award, error) {
	a := model.Award{
		ID:               m.field(fields, "id"),
		PeriodID:         periodID,
		AgencyCode:       strings.ToUpper(m.field(fields, "agency_code")),
		UEI:              m.field(fields, "uei"),
		AwardNumber:      m.field(fields, "award_number"),
		RecipientName:    m.field(fields, "recipient_name"),
		RecipientAddress: m.field(fields, "recipient_address"),
	}
	if a.PeriodID == "" {
		a.PeriodID = m.field(fields, "period_id")
	}
	if a.ID == "" {
		return model.Award{}, eris.New("ingest: row has no id")
	}
	if a.AgencyCode == "" {
		return model.Award{}, eris.New("ingest: row has no agency code")
	}
	if raw := m.field(fields, "amount_usd"); raw != "" {
		amount, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
		if err != nil {
			return model.Award{}, eris.Wrapf(err, "ingest: bad amount %q", raw)
		}
		a.AmountUSD = amount
	}
	return a, nil
}

func (m *RowMapper) field(fields []string, name string) string {
	i, ok := m.idx[name]
	if !ok || i >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[i])
}

func normalizeHeader(col string) string {
	col = strings.ToLower(strings.TrimSpace(col))
	col = strings.ReplaceAll(col, " ", "_")
	col = strings.ReplaceAll(col, "-", "_")
	return col
}
