// Package sop holds the reusable checklist module catalog, the composer
// that builds a concrete checklist for a job, and the execution tracker
// predicates that gate job completion.
package sop

import (
	"fmt"

	"github.com/google/uuid"

	"luvia/internal/domain"
)

func strptr(s string) *string { return &s }

// Catalog is the read-only library of reusable SOP modules. Never mutated
// at runtime.
var Catalog = []domain.SOPModule{
	{
		ID:       "mod-kitchen",
		Name:     "Kitchen Clinical Module",
		Category: "cleaning",
		Tasks: []domain.SOPTemplate{
			{Task: "Degrease Extractor Hood", Category: domain.CategoryTask, IsMandatory: true, Description: strptr("Industrial solvent application.")},
			{Task: "ATP Baseline (Countertops)", Category: domain.CategoryScientific, IsMandatory: true, Unit: strptr("RLU"), Description: strptr("Pre-service reading.")},
		},
	},
	{
		ID:       "mod-hvac",
		Name:     "HVAC Technical Module",
		Category: "technical",
		Tasks: []domain.SOPTemplate{
			{Task: "Refrigerant Pressure Audit", Category: domain.CategoryAssessment, IsMandatory: true, Description: strptr("Record PSI levels.")},
			{Task: "Antimicrobial Coil Flush", Category: domain.CategoryLogic, IsMandatory: true, Description: strptr("LUVIA Blue-Label solvent.")},
		},
	},
	{
		ID:       "mod-security",
		Name:     "Site Integrity Module",
		Category: "safety",
		Tasks: []domain.SOPTemplate{
			{Task: "Hazmat Baseline Check", Category: domain.CategorySafety, IsMandatory: true, Description: strptr("Verify safe entry conditions.")},
		},
	},
}

// ModuleByID looks a module up in the catalog.
func ModuleByID(id string) (domain.SOPModule, error) {
	for _, m := range Catalog {
		if m.ID == id {
			return m, nil
		}
	}
	return domain.SOPModule{}, domain.NotFound(fmt.Sprintf("unknown sop module %q", id))
}

// CustomTask is an ad-hoc checklist entry supplied alongside modules.
type CustomTask struct {
	Text      string `json:"text"`
	Mandatory bool   `json:"mandatory"`
}

// Compose builds an ordered checklist from the selected catalog modules
// followed by the custom tasks. Module order follows selection order, task
// order within a module follows the catalog. Each produced item gets a
// fresh id and starts incomplete with no evidence or value. Composing from
// empty inputs yields an empty list; the caller decides what that means.
func Compose(moduleIDs []string, custom []CustomTask) ([]domain.SOPItem, error) {
	var items []domain.SOPItem
	for _, id := range moduleIDs {
		mod, err := ModuleByID(id)
		if err != nil {
			return nil, err
		}
		for _, tpl := range mod.Tasks {
			items = append(items, domain.SOPItem{
				ID:          uuid.NewString(),
				Task:        tpl.Task,
				Category:    tpl.Category,
				IsMandatory: tpl.IsMandatory,
				Unit:        tpl.Unit,
				Description: tpl.Description,
			})
		}
	}
	for _, c := range custom {
		if c.Text == "" {
			return nil, domain.Invalid("custom task text must not be empty")
		}
		items = append(items, domain.SOPItem{
			ID:          uuid.NewString(),
			Task:        c.Text,
			Category:    domain.CategoryTask,
			IsMandatory: c.Mandatory,
			Description: strptr("Custom site-specific injection."),
		})
	}
	return items, nil
}
