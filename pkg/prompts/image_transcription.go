package prompts

// ImageTranscriptionPrompt asks a vision model to transcribe an uploaded
// image, paying attention to the company profile fields.
const ImageTranscriptionPrompt = `請從這張圖片中提取所有文字內容，特別注意：
- 公司名稱
- 產業別
- 資本額
- 專利數量（發明專利、新型專利）
- 認證資料（含 ESG 相關認證）
- 產品資訊（產品ID、名稱、規格、價格等）

請以清晰的格式輸出所有找到的文字，保留「欄位：值」的排列，不要加入圖片中沒有的內容。`
