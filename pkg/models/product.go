package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Product is one catalog entry of a profile. ExternalID is the user-facing
// product identifier and the dedup key within a profile when non-empty.
type Product struct {
	ID                  uuid.UUID `json:"id"`
	ProfileID           uuid.UUID `json:"profile_id"`
	ExternalID          string    `json:"product_id"`
	Name                string    `json:"product_name"`
	Price               string    `json:"price"`
	MainRawMaterials    string    `json:"main_raw_materials"`
	ProductStandard     string    `json:"product_standard"`
	TechnicalAdvantages string    `json:"technical_advantages"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// ProductFields is a partial product submission; nil means "not supplied".
type ProductFields struct {
	ExternalID          *string `json:"product_id,omitempty"`
	Name                *string `json:"product_name,omitempty"`
	Price               *string `json:"price,omitempty"`
	MainRawMaterials    *string `json:"main_raw_materials,omitempty"`
	ProductStandard     *string `json:"product_standard,omitempty"`
	TechnicalAdvantages *string `json:"technical_advantages,omitempty"`
}

// Identifier returns the trimmed external id, empty if absent.
func (f ProductFields) Identifier() string {
	if f.ExternalID == nil {
		return ""
	}
	return strings.TrimSpace(*f.ExternalID)
}

// HasName reports whether a non-blank name was supplied.
func (f ProductFields) HasName() bool {
	return f.Name != nil && strings.TrimSpace(*f.Name) != ""
}

// ApplyTo writes the supplied fields onto p and reports whether anything changed.
func (f ProductFields) ApplyTo(p *Product) bool {
	changed := false
	set := func(dst *string, v *string) {
		if v == nil {
			return
		}
		nv := strings.TrimSpace(*v)
		if *dst != nv {
			*dst = nv
			changed = true
		}
	}
	set(&p.ExternalID, f.ExternalID)
	set(&p.Name, f.Name)
	set(&p.Price, f.Price)
	set(&p.MainRawMaterials, f.MainRawMaterials)
	set(&p.ProductStandard, f.ProductStandard)
	set(&p.TechnicalAdvantages, f.TechnicalAdvantages)
	return changed
}

// CloneFor returns a copy of p with a fresh identity attached to profileID.
func (p *Product) CloneFor(profileID uuid.UUID) *Product {
	c := *p
	c.ID = uuid.New()
	c.ProfileID = profileID
	return &c
}

// ============================================================================
// Product schema
// ============================================================================

// ProductFieldKey identifies a product attribute; values double as tool
// argument names.
type ProductFieldKey string

const (
	ProductFieldExternalID          ProductFieldKey = "product_id"
	ProductFieldName                ProductFieldKey = "product_name"
	ProductFieldPrice               ProductFieldKey = "price"
	ProductFieldMainRawMaterials    ProductFieldKey = "main_raw_materials"
	ProductFieldProductStandard     ProductFieldKey = "product_standard"
	ProductFieldTechnicalAdvantages ProductFieldKey = "technical_advantages"
)

// ProductFieldSpec declares a product attribute, its display label and the
// label keywords recognised in "label: value" lines.
type ProductFieldSpec struct {
	Key         ProductFieldKey
	Label       string
	Description string
	Keywords    []string
}

// Keyword order matters: "產品名稱" must be tried before the bare "名稱", and
// "產品ID" before anything containing "產品".
var productSchema = []ProductFieldSpec{
	{ProductFieldExternalID, "產品ID", "產品ID或料號", []string{"產品ID", "产品ID", "產品編號", "料號"}},
	{ProductFieldName, "產品名稱", "產品名稱", []string{"產品名稱", "产品名称", "名稱", "名称"}},
	{ProductFieldPrice, "價格", "價格（含幣別與單位，原文保留）", []string{"價格", "价格", "售價"}},
	{ProductFieldMainRawMaterials, "主要原料", "主要原料", []string{"主要原料", "原料"}},
	{ProductFieldProductStandard, "產品規格(尺寸、精度)", "產品規格（尺寸、精度）", []string{"規格", "规格", "尺寸", "精度"}},
	{ProductFieldTechnicalAdvantages, "產品技術優勢", "技術優勢", []string{"技術優勢", "技术优势", "優勢", "优势"}},
}

// ProductSchema returns the product attributes in display order.
func ProductSchema() []ProductFieldSpec {
	out := make([]ProductFieldSpec, len(productSchema))
	copy(out, productSchema)
	return out
}

// Set assigns a value to the attribute named by key. Unknown keys report false.
func (f *ProductFields) Set(key ProductFieldKey, value string) bool {
	v := value
	switch key {
	case ProductFieldExternalID:
		f.ExternalID = &v
	case ProductFieldName:
		f.Name = &v
	case ProductFieldPrice:
		f.Price = &v
	case ProductFieldMainRawMaterials:
		f.MainRawMaterials = &v
	case ProductFieldProductStandard:
		f.ProductStandard = &v
	case ProductFieldTechnicalAdvantages:
		f.TechnicalAdvantages = &v
	default:
		return false
	}
	return true
}

// Value returns the attribute named by key.
func (p *Product) Value(key ProductFieldKey) string {
	switch key {
	case ProductFieldExternalID:
		return p.ExternalID
	case ProductFieldName:
		return p.Name
	case ProductFieldPrice:
		return p.Price
	case ProductFieldMainRawMaterials:
		return p.MainRawMaterials
	case ProductFieldProductStandard:
		return p.ProductStandard
	case ProductFieldTechnicalAdvantages:
		return p.TechnicalAdvantages
	}
	return ""
}
