package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-onboard/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-onboard/pkg/models"
)

// ExportFormat selects the document encoding of an export.
type ExportFormat string

const (
	ExportFormatJSON ExportFormat = "json"
	ExportFormatYAML ExportFormat = "yaml"
	ExportFormatXLSX ExportFormat = "xlsx"
)

// ParseExportFormat accepts json, yaml (or yml) and xlsx, case-insensitively.
// An empty string means json.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return ExportFormatJSON, nil
	case "yaml", "yml":
		return ExportFormatYAML, nil
	case "xlsx":
		return ExportFormatXLSX, nil
	}
	return "", fmt.Errorf("%w: %q", apperrors.ErrUnsupportedExportFormat, s)
}

// ExportDocument is a rendered export ready for download.
type ExportDocument struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ExportService renders the current profile as a downloadable document.
type ExportService interface {
	ExportCurrent(ctx context.Context, userID uuid.UUID, format ExportFormat) (*ExportDocument, error)
}

type exportService struct {
	sessions SessionService
	now      func() time.Time
	logger   *zap.Logger
}

// NewExportService creates an export service reading through the session service.
func NewExportService(sessions SessionService, logger *zap.Logger) ExportService {
	return &exportService{
		sessions: sessions,
		now:      time.Now,
		logger:   logger.Named("export"),
	}
}

var _ ExportService = (*exportService)(nil)

// Sheet names are part of the export contract.
const (
	sheetCompany  = "公司資料"
	sheetProducts = "產品"
)

// exportProduct and exportProfile fix the key set and its order for the
// JSON and YAML encodings.
type exportProduct struct {
	ExternalID          string `json:"產品ID" yaml:"產品ID"`
	Name                string `json:"產品名稱" yaml:"產品名稱"`
	Price               string `json:"價格" yaml:"價格"`
	MainRawMaterials    string `json:"主要原料" yaml:"主要原料"`
	ProductStandard     string `json:"產品規格(尺寸、精度)" yaml:"產品規格(尺寸、精度)"`
	TechnicalAdvantages string `json:"產品技術優勢" yaml:"產品技術優勢"`
}

type exportProfile struct {
	Industry              *string         `json:"產業別" yaml:"產業別"`
	CapitalAmount         *int64          `json:"資本總額" yaml:"資本總額"`
	InventionPatentCount  *int            `json:"發明專利數量" yaml:"發明專利數量"`
	UtilityPatentCount    *int            `json:"新型專利數量" yaml:"新型專利數量"`
	CertificationCount    *int            `json:"公司認證資料數量" yaml:"公司認證資料數量"`
	ESGCertificationCount *int            `json:"ESG相關認證資料數量" yaml:"ESG相關認證資料數量"`
	ESGCertifications     *string         `json:"ESG相關認證資料" yaml:"ESG相關認證資料"`
	Products              []exportProduct `json:"產品" yaml:"產品"`
}

func newExportProfile(p *models.Profile) exportProfile {
	out := exportProfile{
		Industry:              p.Industry,
		CapitalAmount:         p.CapitalAmount,
		InventionPatentCount:  p.InventionPatentCount,
		UtilityPatentCount:    p.UtilityPatentCount,
		CertificationCount:    p.CertificationCount,
		ESGCertificationCount: p.ESGCertificationCount,
		ESGCertifications:     p.ESGCertifications,
		Products:              make([]exportProduct, 0, len(p.Products)),
	}
	for _, prod := range p.Products {
		out.Products = append(out.Products, exportProduct{
			ExternalID:          prod.ExternalID,
			Name:                prod.Name,
			Price:               prod.Price,
			MainRawMaterials:    prod.MainRawMaterials,
			ProductStandard:     prod.ProductStandard,
			TechnicalAdvantages: prod.TechnicalAdvantages,
		})
	}
	return out
}

func (s *exportService) ExportCurrent(ctx context.Context, userID uuid.UUID, format ExportFormat) (*ExportDocument, error) {
	profile, err := s.sessions.GetCurrentProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	var (
		body        []byte
		contentType string
	)
	switch format {
	case ExportFormatJSON:
		body, err = json.MarshalIndent(newExportProfile(profile), "", "  ")
		contentType = "application/json; charset=utf-8"
	case ExportFormatYAML:
		body, err = renderYAML(newExportProfile(profile))
		contentType = "application/yaml; charset=utf-8"
	case ExportFormatXLSX:
		body, err = renderXLSX(profile)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnsupportedExportFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to render %s export: %w", format, err)
	}

	s.logger.Info("Profile exported",
		zap.String("user_id", userID.String()),
		zap.String("profile_id", profile.ID.String()),
		zap.String("format", string(format)),
		zap.Int("products", len(profile.Products)),
		zap.Int("bytes", len(body)))

	return &ExportDocument{
		Filename:    fmt.Sprintf("company_profile_%s.%s", s.now().Format("20060102"), format),
		ContentType: contentType,
		Body:        body,
	}, nil
}

func renderYAML(doc exportProfile) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// renderXLSX writes one label/value row per catalog field on the company
// sheet and one row per product on the product sheet.
func renderXLSX(p *models.Profile) ([]byte, error) {
	f := xlsx.NewFile()

	company, err := f.AddSheet(sheetCompany)
	if err != nil {
		return nil, err
	}
	addStringRow(company, "欄位", "內容")
	addStringRow(company, "產業別", derefString(p.Industry))
	addIntRow(company, "資本總額", p.CapitalAmount)
	addIntRow(company, "發明專利數量", intPtr64(p.InventionPatentCount))
	addIntRow(company, "新型專利數量", intPtr64(p.UtilityPatentCount))
	addIntRow(company, "公司認證資料數量", intPtr64(p.CertificationCount))
	addIntRow(company, "ESG相關認證資料數量", intPtr64(p.ESGCertificationCount))
	addStringRow(company, "ESG相關認證資料", derefString(p.ESGCertifications))

	products, err := f.AddSheet(sheetProducts)
	if err != nil {
		return nil, err
	}
	schema := models.ProductSchema()
	header := make([]string, len(schema))
	for i, spec := range schema {
		header[i] = spec.Label
	}
	addStringRow(products, header...)
	for _, prod := range p.Products {
		values := make([]string, len(schema))
		for i, spec := range schema {
			values[i] = prod.Value(spec.Key)
		}
		addStringRow(products, values...)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func addStringRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

// addIntRow leaves the value cell empty for uncollected fields.
func addIntRow(sheet *xlsx.Sheet, label string, v *int64) {
	row := sheet.AddRow()
	row.AddCell().SetString(label)
	cell := row.AddCell()
	if v != nil {
		cell.SetInt64(*v)
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func intPtr64(v *int) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}
