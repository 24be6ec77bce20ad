package services

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-onboard/pkg/models"
	"github.com/ekaya-inc/ekaya-onboard/pkg/prompts"
)

// Fixed assistant texts.
const (
	oracleApology = "抱歉，我遇到了一些技術問題。請稍後再試。"

	notUnderstoodPrefix = "抱歉，我無法理解您的輸入。"

	greetingMenu = `您好！我是企業資料收集助理，將協助您建立公司基本資料與產品資料。

請選擇：
1. 開始填寫公司資料
2. 查看目前進度

請輸入選項編號。`

	// productAddedFollowUp is also how later turns recognise that the
	// product phase has been entered.
	productAddedFollowUp = "是否要繼續新增其他產品？（如果是，請提供下一個產品資料；如果不是，請回答「完成」）"

	recordedFallback = "我已經記錄您的資訊。請繼續提供其他資料。"
)

// productPhaseMarker is the first line of the product-phase question that
// stays stable when the rest of the prompt is edited.
var productPhaseMarker = strings.SplitN(models.ProductPhasePrompt, "\n", 2)[0]

// nextPrompt returns the question for the first missing field, or the
// product-phase prompt once every field is set.
func nextPrompt(p *models.Profile) string {
	if f, missing := p.NextMissingField(); missing {
		return f.Prompt
	}
	return models.ProductPhasePrompt
}

// formatFieldValue renders a stored field without units; "" means unset.
func formatFieldValue(p *models.Profile, key models.FieldKey) string {
	switch key {
	case models.FieldIndustry:
		if p.Industry != nil {
			return *p.Industry
		}
	case models.FieldCapitalAmount:
		if p.CapitalAmount != nil {
			return groupThousands(*p.CapitalAmount)
		}
	case models.FieldInventionPatentCount:
		return formatCount(p.InventionPatentCount)
	case models.FieldUtilityPatentCount:
		return formatCount(p.UtilityPatentCount)
	case models.FieldCertificationCount:
		return formatCount(p.CertificationCount)
	case models.FieldESGCertification:
		return formatESG(p)
	}
	return ""
}

// formatFieldDisplay renders a field with its unit for summaries.
func formatFieldDisplay(p *models.Profile, f models.FieldSpec) string {
	v := formatFieldValue(p, f.Key)
	if v == "" {
		return "未填寫"
	}
	if f.Key == models.FieldESGCertification || f.Unit == "" {
		return v
	}
	return v + " " + f.Unit
}

func formatCount(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatESG(p *models.Profile) string {
	if p.ESGCertificationCount == nil {
		return ""
	}
	if *p.ESGCertificationCount == 0 {
		return "無"
	}
	s := fmt.Sprintf("有（%d 份）", *p.ESGCertificationCount)
	if p.ESGCertifications != nil && *p.ESGCertifications != "" {
		s += "：" + *p.ESGCertifications
	}
	return s
}

// groupThousands formats n with comma separators.
func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// confirmationMessage acknowledges what a turn recorded and asks the next
// question.
func confirmationMessage(after *models.Profile, changed []models.FieldSpec, products []*models.Product) string {
	var parts []string
	for _, f := range changed {
		parts = append(parts, fmt.Sprintf("%s：%s", f.Label, formatFieldDisplay(after, f)))
	}
	for _, p := range products {
		parts = append(parts, fmt.Sprintf("產品「%s」", p.Name))
	}

	var b strings.Builder
	if len(parts) > 0 {
		b.WriteString("已記錄 ")
		b.WriteString(strings.Join(parts, "、"))
		b.WriteString("。\n\n")
	} else {
		b.WriteString(recordedFallback)
		b.WriteString("\n\n")
	}
	if len(products) > 0 && after.AllFieldsSet() {
		b.WriteString(productAddedFollowUp)
	} else {
		b.WriteString(nextPrompt(after))
	}
	return b.String()
}

// productAddedMessage confirms a product in the slot-filling product phase.
func productAddedMessage(p *models.Product, wasNew bool) string {
	verb := "新增"
	if !wasNew {
		verb = "更新"
	}
	return fmt.Sprintf("產品「%s」已%s成功！\n\n%s", p.Name, verb, productAddedFollowUp)
}

// completionSummary lists the collected profile when a session completes.
func completionSummary(p *models.Profile, productsCount int) string {
	var b strings.Builder
	b.WriteString("太棒了！您的資料已經收集完成。\n\n")
	for _, f := range models.OrderedFields() {
		fmt.Fprintf(&b, "✅ %s：%s\n", f.Label, formatFieldDisplay(p, f))
	}
	fmt.Fprintf(&b, "✅ 產品數量：%d 個\n\n", productsCount)
	b.WriteString("您可以使用匯出功能來取得完整的JSON格式資料。")
	return b.String()
}

// progressMessage is the menu's progress view.
func progressMessage(p *models.Profile, progress models.Progress) string {
	var b strings.Builder
	fmt.Fprintf(&b, "目前進度：已完成 %d / %d 個欄位，已新增 %d 個產品。\n\n",
		progress.FieldsCompleted, progress.TotalFields, progress.ProductsCount)
	for _, f := range models.OrderedFields() {
		mark := "⬜"
		if p.IsFieldSet(f.Key) {
			mark = "✅"
		}
		fmt.Fprintf(&b, "%s %s：%s\n", mark, f.Label, formatFieldDisplay(p, f))
	}
	b.WriteString("\n請輸入 1 開始或繼續填寫資料。")
	return b.String()
}

// profileContext describes the profile for the oracle prompt.
func profileContext(p *models.Profile, productsCount int) prompts.ProfileContext {
	pc := prompts.ProfileContext{ProductsCount: productsCount}
	for _, f := range models.OrderedFields() {
		if p.IsFieldSet(f.Key) {
			pc.Known = append(pc.Known, prompts.KnownField{Label: f.Label, Value: formatFieldDisplay(p, f)})
		} else {
			pc.Missing = append(pc.Missing, f.Label)
		}
	}
	return pc
}

// profileSummary serialises the known fields for the oracle.
func profileSummary(p *models.Profile, productsCount int) string {
	return prompts.FormatProfileSummary(profileContext(p, productsCount))
}

// WelcomeMessage is shown when a session is opened.
func WelcomeMessage() string {
	return greetingMenu
}
