package llm

import (
	"github.com/ekaya-inc/ekaya-onboard/pkg/models"
)

// ToolDefinition defines a tool that can be called by the oracle.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ParameterProperty defines a parameter property in JSON Schema format.
type ParameterProperty struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// NewToolDefinition creates a tool definition whose parameters form a closed
// JSON Schema object: keys outside properties are not allowed.
func NewToolDefinition(name, description string, properties map[string]ParameterProperty, required []string) ToolDefinition {
	props := make(map[string]any, len(properties))
	for k, v := range properties {
		prop := map[string]any{
			"type":        v.Type,
			"description": v.Description,
		}
		if len(v.Enum) > 0 {
			prop["enum"] = v.Enum
		}
		props[k] = prop
	}
	if required == nil {
		required = []string{}
	}

	return ToolDefinition{
		Name:        name,
		Description: description,
		Parameters: map[string]any{
			"type":                 "object",
			"properties":           props,
			"required":             required,
			"additionalProperties": false,
		},
	}
}

// CompanyProfileTools returns update_company_data, add_product and
// mark_completed, with argument schemas derived from the field catalog.
func CompanyProfileTools() []ToolDefinition {
	updateProps := make(map[string]ParameterProperty)
	for _, arg := range models.UpdateArgs() {
		updateProps[arg.Name] = ParameterProperty{
			Type:        schemaType(arg.Coercion),
			Description: arg.Description,
		}
	}

	productProps := make(map[string]ParameterProperty)
	for _, f := range models.ProductSchema() {
		productProps[string(f.Key)] = ParameterProperty{
			Type:        "string",
			Description: f.Description,
		}
	}

	return []ToolDefinition{
		NewToolDefinition(
			models.ToolUpdateCompanyData,
			"更新公司基本資料。只填入使用者明確提供的欄位，未提及的欄位請勿填寫。",
			updateProps,
			nil,
		),
		NewToolDefinition(
			models.ToolAddProduct,
			"新增或更新一項產品資料。相同產品ID視為同一產品。",
			productProps,
			[]string{string(models.ProductFieldName)},
		),
		NewToolDefinition(
			models.ToolMarkCompleted,
			"當使用者明確表示資料已全部提供完畢時呼叫。",
			map[string]ParameterProperty{
				"completed": {
					Type:        "boolean",
					Description: "使用者確認完成時為 true",
				},
			},
			[]string{"completed"},
		),
	}
}

func schemaType(c models.Coercion) string {
	switch c {
	case models.CoerceInteger:
		return "integer"
	case models.CoerceBoolean:
		return "boolean"
	default:
		return "string"
	}
}
