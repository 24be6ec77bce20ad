package models

import (
	"time"

	"github.com/google/uuid"
)

// Profile is the structured company record assembled over one conversation.
// Scalar fields are nil until collected. At most one profile per user is
// current at any time.
type Profile struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	SessionID uuid.UUID `json:"session_id"`

	Industry              *string `json:"industry"`
	CapitalAmount         *int64  `json:"capital_amount"` // New Taiwan Dollars
	InventionPatentCount  *int    `json:"invention_patent_count"`
	UtilityPatentCount    *int    `json:"utility_patent_count"`
	CertificationCount    *int    `json:"certification_count"`
	ESGCertificationCount *int    `json:"esg_certification_count"`
	ESGCertifications     *string `json:"esg_certification"`

	IsCurrent bool       `json:"is_current"`
	Products  []*Product `json:"products,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsFieldSet reports whether a catalog field has been collected.
func (p *Profile) IsFieldSet(key FieldKey) bool {
	switch key {
	case FieldIndustry:
		return p.Industry != nil && *p.Industry != ""
	case FieldCapitalAmount:
		return p.CapitalAmount != nil
	case FieldInventionPatentCount:
		return p.InventionPatentCount != nil
	case FieldUtilityPatentCount:
		return p.UtilityPatentCount != nil
	case FieldCertificationCount:
		return p.CertificationCount != nil
	case FieldESGCertification:
		return p.ESGCertificationCount != nil
	}
	return false
}

// NextMissingField returns the first unset field in catalog order. The
// boolean is false once every field is set (product phase).
func (p *Profile) NextMissingField() (FieldSpec, bool) {
	for _, f := range fieldCatalog {
		if !p.IsFieldSet(f.Key) {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// CompletedFieldCount counts collected catalog fields.
func (p *Profile) CompletedFieldCount() int {
	n := 0
	for _, f := range fieldCatalog {
		if p.IsFieldSet(f.Key) {
			n++
		}
	}
	return n
}

// AllFieldsSet reports whether the scalar part of the profile is complete.
func (p *Profile) AllFieldsSet() bool {
	_, missing := p.NextMissingField()
	return !missing
}

// CopyScalarsFrom copies the scalar fields of src into p. Pointers are
// duplicated so the two profiles never alias each other.
func (p *Profile) CopyScalarsFrom(src *Profile) {
	p.Industry = cloneString(src.Industry)
	p.CapitalAmount = cloneInt64(src.CapitalAmount)
	p.InventionPatentCount = cloneInt(src.InventionPatentCount)
	p.UtilityPatentCount = cloneInt(src.UtilityPatentCount)
	p.CertificationCount = cloneInt(src.CertificationCount)
	p.ESGCertificationCount = cloneInt(src.ESGCertificationCount)
	p.ESGCertifications = cloneString(src.ESGCertifications)
}

// Clone returns a deep copy, products included.
func (p *Profile) Clone() *Profile {
	c := *p
	c.CopyScalarsFrom(p)
	if p.Products != nil {
		c.Products = make([]*Product, len(p.Products))
		for i, prod := range p.Products {
			cp := *prod
			c.Products[i] = &cp
		}
	}
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}
