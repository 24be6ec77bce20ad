package models

// ============================================================================
// Field Catalog
// ============================================================================

// FieldKey identifies one of the scalar company-profile fields.
type FieldKey string

const (
	FieldIndustry             FieldKey = "industry"
	FieldCapitalAmount        FieldKey = "capital_amount"
	FieldInventionPatentCount FieldKey = "invention_patent_count"
	FieldUtilityPatentCount   FieldKey = "utility_patent_count"
	FieldCertificationCount   FieldKey = "certification_count"
	FieldESGCertification     FieldKey = "esg_certification"
)

// Coercion is the rule used to turn raw input into a typed field value.
type Coercion string

const (
	CoerceText    Coercion = "text"
	CoerceInteger Coercion = "integer"
	CoerceBoolean Coercion = "boolean"
)

// FieldSpec declares one scalar field: its prompt, coercion rule and rank in
// the slot-filling sequence.
type FieldSpec struct {
	Key      FieldKey
	Label    string
	Prompt   string
	Coercion Coercion
	Rank     int
	// Unit is appended to values in summaries ("件", "份", "臺幣").
	Unit string
}

// ProductPhasePrompt is asked once all scalar fields are set.
const ProductPhasePrompt = `太好了！公司基本資料已經收集完成。

現在讓我們來新增產品資料。請依照以下格式提供產品資訊：

產品ID：[產品ID]
產品名稱：[產品名稱]
價格：[價格]
主要原料：[主要原料]
產品規格：[尺寸、精度]
技術優勢：[技術優勢]

您可以一次提供一個產品，完成後我會詢問是否還要繼續新增。
如果不需要新增產品，請直接回答「不用」或「完成」。`

// The order of this slice is the slot-filling order. Reordering it changes
// what in-flight conversations are asked next.
var fieldCatalog = []FieldSpec{
	{
		Key:      FieldIndustry,
		Label:    "產業別",
		Prompt:   "請問您的公司所屬產業別是什麼？（例如：食品業、鋼鐵業、電子業等）",
		Coercion: CoerceText,
		Rank:     1,
	},
	{
		Key:      FieldCapitalAmount,
		Label:    "資本總額",
		Prompt:   "請問您的公司資本總額是多少？（以臺幣為單位，請輸入數字，例如：5000萬 或 50000000）",
		Coercion: CoerceInteger,
		Rank:     2,
		Unit:     "臺幣",
	},
	{
		Key:      FieldInventionPatentCount,
		Label:    "發明專利數量",
		Prompt:   "請問您的公司擁有多少件發明專利？（請輸入數字）",
		Coercion: CoerceInteger,
		Rank:     3,
		Unit:     "件",
	},
	{
		Key:      FieldUtilityPatentCount,
		Label:    "新型專利數量",
		Prompt:   "請問您的公司擁有多少件新型專利？（請輸入數字）",
		Coercion: CoerceInteger,
		Rank:     4,
		Unit:     "件",
	},
	{
		Key:      FieldCertificationCount,
		Label:    "公司認證資料數量",
		Prompt:   "請問您的公司擁有多少份認證資料（不含ESG認證）？（請輸入數字）",
		Coercion: CoerceInteger,
		Rank:     5,
		Unit:     "份",
	},
	{
		Key:      FieldESGCertification,
		Label:    "ESG相關認證資料",
		Prompt:   "請問您的公司是否有ESG相關認證資料？（請回答：有 或 無，若有請一併列出認證名稱，例如：有，ISO 14064、ISO 50001）",
		Coercion: CoerceBoolean,
		Rank:     6,
		Unit:     "份",
	},
}

var fieldIndex = func() map[FieldKey]FieldSpec {
	idx := make(map[FieldKey]FieldSpec, len(fieldCatalog))
	for _, f := range fieldCatalog {
		idx[f.Key] = f
	}
	return idx
}()

// OrderedFields returns the scalar fields in slot-filling order.
func OrderedFields() []FieldSpec {
	out := make([]FieldSpec, len(fieldCatalog))
	copy(out, fieldCatalog)
	return out
}

// TotalFields is the number of scalar fields tracked for progress.
func TotalFields() int {
	return len(fieldCatalog)
}

// LookupField returns the catalog entry for a field key.
func LookupField(key FieldKey) (FieldSpec, bool) {
	f, ok := fieldIndex[key]
	return f, ok
}

// PromptFor returns the question text for a field, or a generic nudge for
// unknown keys.
func PromptFor(key FieldKey) string {
	if f, ok := fieldIndex[key]; ok {
		return f.Prompt
	}
	return "請繼續提供資料。"
}

// ============================================================================
// Oracle argument catalog
// ============================================================================

// UpdateArg maps one argument of the update_company_data tool onto a catalog
// field. The ESG field is fed by two arguments (count and names).
type UpdateArg struct {
	Name        string
	Field       FieldKey
	Coercion    Coercion
	Description string
}

// Argument names accepted by update_company_data.
const (
	ArgIndustry              = "industry"
	ArgCapitalAmount         = "capital_amount"
	ArgInventionPatentCount  = "invention_patent_count"
	ArgUtilityPatentCount    = "utility_patent_count"
	ArgCertificationCount    = "certification_count"
	ArgESGCertificationCount = "esg_certification_count"
	ArgESGCertification      = "esg_certification"
)

var updateArgs = []UpdateArg{
	{ArgIndustry, FieldIndustry, CoerceText, "產業別，例如：食品業、鋼鐵業、電子業"},
	{ArgCapitalAmount, FieldCapitalAmount, CoerceInteger, "資本總額，以新臺幣「元」為單位的整數（例如 5000萬 = 50000000）"},
	{ArgInventionPatentCount, FieldInventionPatentCount, CoerceInteger, "發明專利數量"},
	{ArgUtilityPatentCount, FieldUtilityPatentCount, CoerceInteger, "新型專利數量"},
	{ArgCertificationCount, FieldCertificationCount, CoerceInteger, "公司認證資料數量（不含ESG）"},
	{ArgESGCertificationCount, FieldESGCertification, CoerceInteger, "ESG相關認證資料數量，沒有則為0"},
	{ArgESGCertification, FieldESGCertification, CoerceText, "ESG相關認證名稱，以逗號分隔，例如：ISO 14064, ISO 50001"},
}

// UpdateArgs returns the update_company_data arguments in catalog order.
func UpdateArgs() []UpdateArg {
	out := make([]UpdateArg, len(updateArgs))
	copy(out, updateArgs)
	return out
}

// LookupUpdateArg finds an update_company_data argument by name.
func LookupUpdateArg(name string) (UpdateArg, bool) {
	for _, a := range updateArgs {
		if a.Name == name {
			return a, true
		}
	}
	return UpdateArg{}, false
}
