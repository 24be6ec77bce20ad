package models

// FieldUpdates is a typed partial update of the scalar profile fields.
// A nil pointer means "absent" and never clears a stored value.
type FieldUpdates struct {
	Industry              *string
	CapitalAmount         *int64
	InventionPatentCount  *int
	UtilityPatentCount    *int
	CertificationCount    *int
	ESGCertificationCount *int
	ESGCertifications     *string
}

// IsEmpty reports whether no field is present.
func (u FieldUpdates) IsEmpty() bool {
	return len(u.Fields()) == 0
}

// Fields lists the catalog fields touched by the update, in catalog order.
func (u FieldUpdates) Fields() []FieldKey {
	var keys []FieldKey
	if u.Industry != nil {
		keys = append(keys, FieldIndustry)
	}
	if u.CapitalAmount != nil {
		keys = append(keys, FieldCapitalAmount)
	}
	if u.InventionPatentCount != nil {
		keys = append(keys, FieldInventionPatentCount)
	}
	if u.UtilityPatentCount != nil {
		keys = append(keys, FieldUtilityPatentCount)
	}
	if u.CertificationCount != nil {
		keys = append(keys, FieldCertificationCount)
	}
	if u.ESGCertificationCount != nil || u.ESGCertifications != nil {
		keys = append(keys, FieldESGCertification)
	}
	return keys
}

// ============================================================================
// Oracle actions
// ============================================================================

// Tool names understood by the conversation engine.
const (
	ToolUpdateCompanyData = "update_company_data"
	ToolAddProduct        = "add_product"
	ToolMarkCompleted     = "mark_completed"
)

// OracleAction is the closed set of typed operations decoded from oracle
// tool calls: UpdateCompanyData, AddProduct and MarkCompleted.
type OracleAction interface {
	ToolName() string
	oracleAction()
}

// UpdateCompanyData merges scalar field values into the profile.
type UpdateCompanyData struct {
	Updates FieldUpdates
}

// AddProduct inserts or updates a product by external id.
type AddProduct struct {
	Fields ProductFields
}

// MarkCompleted ends the session when Completed is true.
type MarkCompleted struct {
	Completed bool
}

func (UpdateCompanyData) ToolName() string { return ToolUpdateCompanyData }
func (AddProduct) ToolName() string        { return ToolAddProduct }
func (MarkCompleted) ToolName() string     { return ToolMarkCompleted }

func (UpdateCompanyData) oracleAction() {}
func (AddProduct) oracleAction()        {}
func (MarkCompleted) oracleAction()     {}
