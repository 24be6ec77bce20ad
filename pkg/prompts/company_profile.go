package prompts

import (
	"fmt"
	"strings"
)

// companyProfileInstructions is the fixed part of the oracle system prompt.
const companyProfileInstructions = `你是一個專業的企業導入助理，負責協助使用者建立公司資料。你的任務是：

1. 用友善、專業的態度以繁體中文與使用者對話
2. 從對話中提取以下公司資訊，並呼叫 update_company_data 記錄：
   - 產業別（如：食品業、鋼鐵業、電子業等）
   - 資本總額（以新臺幣「元」為單位的整數，例如 5000萬 請填 50000000）
   - 發明專利數量
   - 新型專利數量
   - 公司認證資料數量（不含ESG認證）
   - ESG相關認證資料數量與名稱（沒有則數量填 0）
3. 收集產品資訊（可以有多個產品），每個產品呼叫一次 add_product：
   - 產品ID
   - 產品名稱（必填）
   - 價格
   - 主要原料
   - 產品規格（尺寸、精度）
   - 技術優勢

重要提示：
- 如果使用者一次提供多個資訊，請一次提取所有資訊
- 只記錄使用者明確提供的資訊，不要猜測或自行補上數值
- 如果資訊不清楚，請禮貌地詢問
- 公司資料齊全後，詢問使用者是否還要新增產品
- 只有在使用者明確表示已完成所有資料輸入時，才呼叫 mark_completed
- 保持對話自然流暢`

// KnownField is one collected field as shown to the model.
type KnownField struct {
	Label string
	Value string
}

// ProfileContext describes what has been collected so far.
type ProfileContext struct {
	Known         []KnownField
	Missing       []string // labels, catalog order
	ProductsCount int
}

// BuildCompanyProfilePrompt returns the oracle system prompt: the fixed
// instructions followed by the current profile summary.
func BuildCompanyProfilePrompt(pc ProfileContext) string {
	var prompt strings.Builder
	prompt.WriteString(companyProfileInstructions)
	prompt.WriteString("\n\n目前已收集的資料：\n")
	prompt.WriteString(FormatProfileSummary(pc))
	return prompt.String()
}

// FormatProfileSummary lists known fields, the product count and the
// labels still missing.
func FormatProfileSummary(pc ProfileContext) string {
	lines := make([]string, 0, len(pc.Known)+1)
	for _, f := range pc.Known {
		lines = append(lines, fmt.Sprintf("%s: %s", f.Label, f.Value))
	}
	if pc.ProductsCount > 0 {
		lines = append(lines, fmt.Sprintf("產品數量: %d個", pc.ProductsCount))
	}

	summary := "尚未收集任何資料"
	if len(lines) > 0 {
		summary = strings.Join(lines, "\n")
	}
	if len(pc.Missing) > 0 {
		summary += "\n尚未收集: " + strings.Join(pc.Missing, "、")
	} else {
		summary += "\n公司基本資料已齊全，請協助使用者新增產品或確認完成。"
	}
	return summary
}
