package services

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-onboard/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-onboard/pkg/jsonutil"
	"github.com/ekaya-inc/ekaya-onboard/pkg/llm"
	"github.com/ekaya-inc/ekaya-onboard/pkg/logging"
	"github.com/ekaya-inc/ekaya-onboard/pkg/models"
)

// DecodeToolCalls validates oracle tool calls against the field catalog and
// turns them into typed actions, preserving order. Unknown tools, unknown
// argument keys and unparseable argument objects fail the whole batch.
// Individual values of the wrong type are dropped with a warning.
func DecodeToolCalls(calls []llm.ToolCall, logger *zap.Logger) ([]models.OracleAction, error) {
	actions := make([]models.OracleAction, 0, len(calls))
	for _, call := range calls {
		args, err := decodeArguments(call)
		if err != nil {
			return nil, err
		}

		var action models.OracleAction
		switch call.Name {
		case models.ToolUpdateCompanyData:
			action, err = decodeUpdateCompanyData(args, logger)
		case models.ToolAddProduct:
			action, err = decodeAddProduct(args, logger)
		case models.ToolMarkCompleted:
			action, err = decodeMarkCompleted(args)
		default:
			err = fmt.Errorf("%w: unknown tool %q", apperrors.ErrMalformedToolCall, call.Name)
		}
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, nil
}

func decodeArguments(call llm.ToolCall) (map[string]json.RawMessage, error) {
	args := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(call.Arguments)) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return nil, fmt.Errorf("%w: %s arguments: %v", apperrors.ErrMalformedToolCall, call.Name, err)
	}
	return args, nil
}

func decodeUpdateCompanyData(args map[string]json.RawMessage, logger *zap.Logger) (models.UpdateCompanyData, error) {
	var u models.FieldUpdates
	for name, raw := range args {
		arg, ok := models.LookupUpdateArg(name)
		if !ok {
			return models.UpdateCompanyData{}, fmt.Errorf("%w: %s: %w %q",
				apperrors.ErrMalformedToolCall, models.ToolUpdateCompanyData, apperrors.ErrUnknownField, name)
		}
		if jsonutil.IsNull(raw) {
			continue
		}

		switch arg.Coercion {
		case models.CoerceInteger:
			n, ok := coerceInteger(raw)
			if !ok || n < 0 {
				logger.Warn("Ignoring non-numeric oracle value",
					zap.String("argument", name),
					zap.String("value", logging.TruncateForLog(string(raw), logging.MaxMessageLogRunes)))
				continue
			}
			assignInteger(&u, arg.Name, n)
		case models.CoerceText:
			s, ok := jsonutil.FlexibleString(raw)
			if !ok {
				logger.Warn("Ignoring non-text oracle value",
					zap.String("argument", name),
					zap.String("value", logging.TruncateForLog(string(raw), logging.MaxMessageLogRunes)))
				continue
			}
			assignText(&u, arg.Name, s)
		}
	}

	// A list of names without a count still answers the ESG question.
	if u.ESGCertificationCount == nil && u.ESGCertifications != nil {
		names, explicit := splitCertificationNames(*u.ESGCertifications)
		if len(names) > 0 {
			n := len(names)
			u.ESGCertificationCount = &n
		} else if explicit > 0 {
			u.ESGCertificationCount = &explicit
		}
	}
	return models.UpdateCompanyData{Updates: u}, nil
}

func assignInteger(u *models.FieldUpdates, name string, n int64) {
	if name == models.ArgCapitalAmount {
		u.CapitalAmount = &n
		return
	}
	if n > maxCount {
		return
	}
	v := int(n)
	switch name {
	case models.ArgInventionPatentCount:
		u.InventionPatentCount = &v
	case models.ArgUtilityPatentCount:
		u.UtilityPatentCount = &v
	case models.ArgCertificationCount:
		u.CertificationCount = &v
	case models.ArgESGCertificationCount:
		u.ESGCertificationCount = &v
	}
}

func assignText(u *models.FieldUpdates, name, s string) {
	switch name {
	case models.ArgIndustry:
		u.Industry = &s
	case models.ArgESGCertification:
		u.ESGCertifications = &s
	}
}

func decodeAddProduct(args map[string]json.RawMessage, logger *zap.Logger) (models.AddProduct, error) {
	known := make(map[models.ProductFieldKey]bool)
	for _, spec := range models.ProductSchema() {
		known[spec.Key] = true
	}

	var fields models.ProductFields
	for name, raw := range args {
		key := models.ProductFieldKey(name)
		if !known[key] {
			return models.AddProduct{}, fmt.Errorf("%w: %s: %w %q",
				apperrors.ErrMalformedToolCall, models.ToolAddProduct, apperrors.ErrUnknownField, name)
		}
		if jsonutil.IsNull(raw) {
			continue
		}
		s, ok := jsonutil.FlexibleString(raw)
		if !ok {
			logger.Warn("Ignoring non-text product value",
				zap.String("argument", name),
				zap.String("value", logging.TruncateForLog(string(raw), logging.MaxMessageLogRunes)))
			continue
		}
		fields.Set(key, s)
	}

	if !fields.HasName() {
		return models.AddProduct{}, fmt.Errorf("%w: %s: %w",
			apperrors.ErrMalformedToolCall, models.ToolAddProduct, apperrors.ErrProductNameRequired)
	}
	return models.AddProduct{Fields: fields}, nil
}

func decodeMarkCompleted(args map[string]json.RawMessage) (models.MarkCompleted, error) {
	for name := range args {
		if name != "completed" {
			return models.MarkCompleted{}, fmt.Errorf("%w: %s: %w %q",
				apperrors.ErrMalformedToolCall, models.ToolMarkCompleted, apperrors.ErrUnknownField, name)
		}
	}
	raw, ok := args["completed"]
	if !ok {
		return models.MarkCompleted{}, fmt.Errorf("%w: %s: missing completed",
			apperrors.ErrMalformedToolCall, models.ToolMarkCompleted)
	}
	var completed bool
	if err := json.Unmarshal(raw, &completed); err != nil {
		return models.MarkCompleted{}, fmt.Errorf("%w: %s: completed must be a boolean",
			apperrors.ErrMalformedToolCall, models.ToolMarkCompleted)
	}
	return models.MarkCompleted{Completed: completed}, nil
}

// coerceInteger accepts what jsonutil.FlexibleInt64 does plus amounts with
// Chinese units such as "5000萬".
func coerceInteger(raw json.RawMessage) (int64, bool) {
	if n, ok := jsonutil.FlexibleInt64(raw); ok {
		return n, true
	}
	if s, ok := jsonutil.StringValue(raw); ok {
		return parseAmount(s)
	}
	return 0, false
}
