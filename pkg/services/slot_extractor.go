package services

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-onboard/pkg/models"
)

// ============================================================================
// Deterministic slot extraction
// ============================================================================

// Answer words for the ESG question. "有的" is listed before "有" so the
// longer word wins when both start at the same position.
var (
	esgAffirmativeWords = []string{"有的", "有", "yes", "是", "對"}
	esgNegativeWords    = []string{"沒有", "無", "no", "否", "沒"}
	// esgUnsureWords mark answers that negate a yes-word or hedge; they
	// yield no value so the question is asked again.
	esgUnsureWords = []string{"不是", "不對", "不確定", "不知道", "不清楚", "不一定", "不太", "?", "？", "嗎", "吗"}
	// certNameHints are fragments found in certificate names written in
	// Chinese. Names without a hint or a Latin letter or digit are dropped.
	certNameHints = []string{"認證", "认证", "證書", "证书", "標章", "标章", "標準", "标准", "管理系統", "報告", "盤查", "碳", "綠", "绿", "環境", "能源", "永續"}
	// clauseOpeners start a qualifying clause rather than a name.
	clauseOpeners = []string{"但", "不過", "可是", "只是", "還", "正在", "目前"}
)

// finishWords end the product phase of a slot-filling conversation.
var finishWords = []string{"完成", "結束", "不用", "沒有了", "不需要"}

var (
	digitRunPattern = regexp.MustCompile(`\d+`)
	// amountPattern matches a number with optional thousands separators,
	// decimals and a Chinese multiplier.
	amountPattern = regexp.MustCompile(`(\d[\d,，]*(?:\.\d+)?)\s*(億|亿|萬|万)?`)
	// countTokenPattern matches list items that are really counts ("共2項").
	countTokenPattern = regexp.MustCompile(`^(?:共|總共)?\s*(\d+)\s*(?:項|個|份|張|件)?$`)
	nameSeparators    = regexp.MustCompile(`[,，、;；\n]+`)
)

var amountMultipliers = map[string]int64{
	"億": 100_000_000,
	"亿": 100_000_000,
	"萬": 10_000,
	"万": 10_000,
}

// ExtractSlot reads a value for one target field out of a message. The
// boolean is false when nothing usable was found; a guess is never returned.
func ExtractSlot(field models.FieldKey, message string) (models.FieldUpdates, bool) {
	message = strings.TrimSpace(message)
	if message == "" {
		return models.FieldUpdates{}, false
	}

	switch field {
	case models.FieldIndustry:
		return models.FieldUpdates{Industry: &message}, true

	case models.FieldCapitalAmount:
		amount, ok := parseAmount(message)
		if !ok {
			return models.FieldUpdates{}, false
		}
		return models.FieldUpdates{CapitalAmount: &amount}, true

	case models.FieldInventionPatentCount:
		n, ok := firstCount(message)
		if !ok {
			return models.FieldUpdates{}, false
		}
		return models.FieldUpdates{InventionPatentCount: &n}, true

	case models.FieldUtilityPatentCount:
		n, ok := firstCount(message)
		if !ok {
			return models.FieldUpdates{}, false
		}
		return models.FieldUpdates{UtilityPatentCount: &n}, true

	case models.FieldCertificationCount:
		n, ok := firstCount(message)
		if !ok {
			return models.FieldUpdates{}, false
		}
		return models.FieldUpdates{CertificationCount: &n}, true

	case models.FieldESGCertification:
		return parseESGAnswer(message)
	}

	return models.FieldUpdates{}, false
}

// firstCount returns the first run of digits as a non-negative int.
func firstCount(message string) (int, bool) {
	run := digitRunPattern.FindString(message)
	if run == "" {
		return 0, false
	}
	n, err := strconv.Atoi(run)
	if err != nil || n > maxCount {
		return 0, false
	}
	return n, true
}

// parseAmount reads a currency amount in raw NTD. "5000萬", "1.5億",
// "50,000,000" and "1億2000萬" are all understood.
func parseAmount(message string) (int64, bool) {
	matches := amountPattern.FindAllStringSubmatchIndex(message, -1)
	if len(matches) == 0 {
		return 0, false
	}

	var total float64
	lastMultiplier := int64(math.MaxInt64)
	end := -1
	for i, m := range matches {
		// Only adjacent segments with falling multipliers form one amount. A
		// plain trailing number must touch the multiplier before it.
		if i > 0 {
			gap := message[end:m[0]]
			if strings.TrimSpace(gap) != "" || (gap != "" && m[4] < 0) {
				break
			}
		}
		number := strings.NewReplacer(",", "", "，", "").Replace(message[m[2]:m[3]])
		value, err := strconv.ParseFloat(number, 64)
		if err != nil {
			return 0, false
		}
		multiplier := int64(1)
		if m[4] >= 0 {
			multiplier = amountMultipliers[message[m[4]:m[5]]]
		}
		if i > 0 && multiplier >= lastMultiplier {
			break
		}
		total += value * float64(multiplier)
		lastMultiplier = multiplier
		end = m[1]
		if multiplier == 1 {
			break
		}
	}

	if total < 0 || total > math.MaxInt64/2 {
		return 0, false
	}
	return int64(math.Round(total)), true
}

// parseESGAnswer reads a yes/no answer. Names are taken only when a yes-word
// opens the message. Negative words are tried first because "沒有" contains
// "有"; hedged or negated answers are tried before both.
func parseESGAnswer(message string) (models.FieldUpdates, bool) {
	lower := asciiLower(message)

	if _, ok := findWord(lower, esgUnsureWords); ok {
		return models.FieldUpdates{}, false
	}
	if hasPrefixWord(lower, esgNegativeWords) {
		return esgNone(), true
	}
	if word, ok := prefixWord(lower, esgAffirmativeWords); ok {
		return esgFromNames(message[len(word):], true), true
	}
	if _, ok := findWord(lower, esgNegativeWords); ok {
		return esgNone(), true
	}
	if idx, ok := findWord(lower, esgAffirmativeWords); ok {
		return esgFromNames(message[idx:], false), true
	}
	return models.FieldUpdates{}, false
}

func esgNone() models.FieldUpdates {
	zero := 0
	empty := ""
	return models.FieldUpdates{ESGCertificationCount: &zero, ESGCertifications: &empty}
}

// esgFromNames builds an affirmative ESG answer. The count is the number of
// listed names, else an explicit number, else one. Without keepNames only
// the count is recorded.
func esgFromNames(rest string, keepNames bool) models.FieldUpdates {
	names, explicit := splitCertificationNames(rest)
	if !keepNames {
		names = nil
	}
	count := len(names)
	if count == 0 {
		count = 1
		if explicit > 0 {
			count = explicit
		}
	}
	joined := strings.Join(names, ", ")
	return models.FieldUpdates{ESGCertificationCount: &count, ESGCertifications: &joined}
}

// splitCertificationNames splits a free-text list of certificate names.
// Items that only state a count are returned separately.
func splitCertificationNames(text string) ([]string, int) {
	text = strings.TrimLeft(text, " \t:：,，、。的")
	var names []string
	explicit := 0
	for _, part := range nameSeparators.Split(text, -1) {
		part = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(part), "。.等"))
		if part == "" {
			continue
		}
		if m := countTokenPattern.FindStringSubmatch(part); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n <= maxCount {
				explicit = n
			}
			continue
		}
		if looksLikeCertName(part) {
			names = append(names, part)
		}
	}
	return names, explicit
}

// looksLikeCertName rejects clauses such as "但還在申請中" that follow a yes
// without naming anything.
func looksLikeCertName(part string) bool {
	for _, w := range clauseOpeners {
		if strings.HasPrefix(part, w) {
			return false
		}
	}
	for _, r := range part {
		if r < 0x80 && (isASCIILetter(byte(r)) || (r >= '0' && r <= '9')) {
			return true
		}
	}
	for _, h := range certNameHints {
		if strings.Contains(part, h) {
			return true
		}
	}
	return false
}

// wordAt reports whether word starts at byte i of s. ASCII words must not
// touch other letters, so "no" never matches inside "Nordic".
func wordAt(s string, i int, word string) bool {
	if !strings.HasPrefix(s[i:], word) {
		return false
	}
	if !isASCIIWord(word) {
		return true
	}
	if i > 0 && isASCIILetter(s[i-1]) {
		return false
	}
	end := i + len(word)
	return end == len(s) || !isASCIILetter(s[end])
}

func prefixWord(s string, words []string) (string, bool) {
	for _, w := range words {
		if wordAt(s, 0, w) {
			return w, true
		}
	}
	return "", false
}

func hasPrefixWord(s string, words []string) bool {
	_, ok := prefixWord(s, words)
	return ok
}

// findWord returns the byte offset just past the leftmost occurrence of any
// word.
func findWord(s string, words []string) (int, bool) {
	best, bestEnd := -1, -1
	for _, w := range words {
		for from := 0; from < len(s); {
			i := strings.Index(s[from:], w)
			if i < 0 {
				break
			}
			i += from
			if wordAt(s, i, w) {
				if best < 0 || i < best {
					best, bestEnd = i, i+len(w)
				}
				break
			}
			from = i + len(w)
		}
	}
	return bestEnd, best >= 0
}

// asciiLower folds only ASCII letters so byte offsets stay aligned with the
// original message.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

func isASCIIWord(w string) bool {
	for i := 0; i < len(w); i++ {
		if w[i] >= 0x80 {
			return false
		}
	}
	return true
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// ============================================================================
// Product lines
// ============================================================================

// ParseProductLines reads "label: value" lines into a product candidate.
// The boolean is true only when a product name was found.
func ParseProductLines(message string) (models.ProductFields, bool) {
	var fields models.ProductFields
	schema := models.ProductSchema()

	for _, line := range strings.Split(message, "\n") {
		label, value, ok := splitLabelLine(line)
		if !ok {
			continue
		}
		if key, ok := matchProductLabel(schema, label); ok {
			fields.Set(key, value)
		}
	}
	return fields, fields.HasName()
}

// splitLabelLine splits a line on its first full- or half-width colon.
func splitLabelLine(line string) (string, string, bool) {
	idx := strings.IndexAny(line, ":：")
	if idx < 0 {
		return "", "", false
	}
	sep := 1
	if strings.HasPrefix(line[idx:], "：") {
		sep = len("：")
	}
	label := strings.TrimSpace(line[:idx])
	value := strings.TrimSpace(line[idx+sep:])
	if label == "" || value == "" || isPlaceholder(value) {
		return "", "", false
	}
	return label, value, true
}

// isPlaceholder recognises an unfilled "[產品名稱]" template slot.
func isPlaceholder(value string) bool {
	return strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]")
}

func matchProductLabel(schema []models.ProductFieldSpec, label string) (models.ProductFieldKey, bool) {
	upper := strings.ToUpper(label)
	for _, spec := range schema {
		for _, kw := range spec.Keywords {
			if strings.Contains(upper, strings.ToUpper(kw)) {
				return spec.Key, true
			}
		}
	}
	return "", false
}

// IsFinishWord reports whether the message asks to end the product phase.
func IsFinishWord(message string) bool {
	message = strings.TrimSpace(message)
	for _, w := range finishWords {
		if strings.Contains(message, w) {
			return true
		}
	}
	return false
}
