package services

import (
	"math"
	"strings"

	"github.com/ekaya-inc/ekaya-onboard/pkg/models"
)

// maxCount is the largest count the profile store accepts.
const maxCount = math.MaxInt32

// ApplyUpdates writes every present field of u onto p and reports whether a
// stored value actually changed. Absent fields are left untouched, so a
// partial update never clears what is already known. Negative counts, counts
// above maxCount and a blank industry are ignored.
func ApplyUpdates(p *models.Profile, u models.FieldUpdates) bool {
	changed := false

	if u.Industry != nil {
		if v := strings.TrimSpace(*u.Industry); v != "" {
			changed = setString(&p.Industry, v) || changed
		}
	}
	if u.CapitalAmount != nil && *u.CapitalAmount >= 0 {
		if p.CapitalAmount == nil || *p.CapitalAmount != *u.CapitalAmount {
			v := *u.CapitalAmount
			p.CapitalAmount = &v
			changed = true
		}
	}
	changed = setCount(&p.InventionPatentCount, u.InventionPatentCount) || changed
	changed = setCount(&p.UtilityPatentCount, u.UtilityPatentCount) || changed
	changed = setCount(&p.CertificationCount, u.CertificationCount) || changed
	changed = setCount(&p.ESGCertificationCount, u.ESGCertificationCount) || changed
	if u.ESGCertifications != nil {
		changed = setString(&p.ESGCertifications, strings.TrimSpace(*u.ESGCertifications)) || changed
	}

	return changed
}

func setString(dst **string, v string) bool {
	if *dst != nil && **dst == v {
		return false
	}
	*dst = &v
	return true
}

func setCount(dst **int, v *int) bool {
	if v == nil || *v < 0 || *v > maxCount {
		return false
	}
	if *dst != nil && **dst == *v {
		return false
	}
	n := *v
	*dst = &n
	return true
}

// changedFields lists, in catalog order, the fields whose values differ
// between before and after.
func changedFields(before, after *models.Profile) []models.FieldSpec {
	var out []models.FieldSpec
	for _, f := range models.OrderedFields() {
		if formatFieldValue(before, f.Key) != formatFieldValue(after, f.Key) {
			out = append(out, f)
		}
	}
	return out
}
