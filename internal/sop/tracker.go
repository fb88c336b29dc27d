package sop

import "luvia/internal/domain"

// satisfied is the completion predicate used for gating. Scientific tasks
// are complete once a value is recorded; all other mandatory tasks need
// provider-submitted evidence on top of the completed flag.
func satisfied(item domain.SOPItem) bool {
	if item.Category == domain.CategoryScientific {
		return item.Value != nil && *item.Value != ""
	}
	if !item.IsCompleted {
		return false
	}
	if item.IsMandatory {
		return item.EvidenceURL != nil && *item.EvidenceURL != ""
	}
	return true
}

// Progress returns the checklist completion percentage, rounded to the
// nearest integer. An empty list is 0, not a division error.
func Progress(items []domain.SOPItem) int {
	if len(items) == 0 {
		return 0
	}
	done := 0
	for _, it := range items {
		if it.IsCompleted {
			done++
		}
	}
	return int((float64(done)/float64(len(items)))*100 + 0.5)
}

// NextMandatoryIncomplete returns the first mandatory task in list order
// that is not yet completed, or nil when none remain.
func NextMandatoryIncomplete(items []domain.SOPItem) *domain.SOPItem {
	for i := range items {
		if items[i].IsMandatory && !items[i].IsCompleted {
			return &items[i]
		}
	}
	return nil
}

// MissingMandatory counts mandatory tasks that do not yet satisfy their
// completion predicate. Used to word transition rejections.
func MissingMandatory(items []domain.SOPItem) int {
	missing := 0
	for _, it := range items {
		if it.IsMandatory && !satisfied(it) {
			missing++
		}
	}
	return missing
}

// AllMandatorySatisfied reports whether every mandatory task has passed its
// completion predicate. This is the single gate for submitting a job for
// review; a checklist with no mandatory tasks passes vacuously.
func AllMandatorySatisfied(items []domain.SOPItem) bool {
	for _, it := range items {
		if it.IsMandatory && !satisfied(it) {
			return false
		}
	}
	return true
}
