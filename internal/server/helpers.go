package server

import (
	"encoding/base64"
	"fmt"
	"slices"
	"strings"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/ahouse2/omniparser-autogui-mcp/internal/transport"
)

// errorResult creates a ToolResult with IsError=true and the given message.
func errorResult(msg string) *ToolResult {
	return &ToolResult{
		IsError: true,
		Content: []Content{{Type: "text", Text: msg}},
	}
}

// textResult creates a ToolResult with a single text content.
func textResult(text string) *ToolResult {
	return &ToolResult{
		Content: []Content{{Type: "text", Text: text}},
	}
}

// textResultf creates a ToolResult with a formatted text content.
func textResultf(format string, args ...any) *ToolResult {
	return textResult(fmt.Sprintf(format, args...))
}

// imageContent wraps PNG bytes as a base64 image content item.
func imageContent(png []byte) Content {
	return Content{
		Type:     "image",
		Data:     base64.StdEncoding.EncodeToString(png),
		MimeType: "image/png",
	}
}

// formatStatusError formats a status error with context for tool
// responses: the code, the message, and an actionable suggestion for the
// common failure classes.
func formatStatusError(err error, toolName string) string {
	if err == nil {
		return ""
	}

	st, ok := grpcstatus.FromError(err)
	if !ok {
		return fmt.Sprintf("Error in %s: %s", toolName, err.Error())
	}

	suggestion := ""
	switch st.Code() {
	case codes.FailedPrecondition:
		suggestion = "Run analyze_screen first so there is a current analysis to act on"
	case codes.Internal:
		suggestion = "The analysis pass failed. Re-run analyze_screen; check the analysis backend logs if it persists"
	case codes.Unavailable:
		suggestion = "A desktop or analysis collaborator is unreachable. Check that the required tools/server are installed and running"
	case codes.InvalidArgument:
		suggestion = "Check the request parameters for invalid or missing values"
	case codes.DeadlineExceeded:
		suggestion = "Operation timed out. The analysis may still be running; call analyze_screen again to keep waiting"
	case codes.NotFound:
		suggestion = "Verify the ID against the latest analyze_screen output"
	}

	result := fmt.Sprintf("Error in %s: %s - %s", toolName, st.Code().String(), st.Message())
	if suggestion != "" {
		result += fmt.Sprintf("\nSuggestion: %s", suggestion)
	}
	return result
}

// validateToolInput validates arguments against the tool's input schema:
// required fields present, types matching, enum values in the allowed
// set. Extra properties are allowed. Returns a JSON-RPC invalid-params
// response on failure, nil when the input is acceptable.
func validateToolInput(tool *Tool, args map[string]any) *transport.Message {
	schema := tool.InputSchema
	if schema == nil {
		return nil
	}

	for _, field := range getRequiredFields(schema) {
		if _, exists := args[field]; !exists {
			return invalidParamsError(fmt.Sprintf("missing required field: %s", field))
		}
	}

	properties := getSchemaProperties(schema)
	if properties == nil {
		return nil
	}

	for fieldName, value := range args {
		propSchema, exists := properties[fieldName]
		if !exists {
			continue
		}
		if err := validateFieldValue(fieldName, value, propSchema); err != nil {
			return invalidParamsError(err.Error())
		}
	}
	return nil
}

func invalidParamsError(message string) *transport.Message {
	return &transport.Message{
		JSONRPC: "2.0",
		Error: &transport.ErrorObj{
			Code:    transport.ErrCodeInvalidParams,
			Message: message,
		},
	}
}

func getRequiredFields(schema map[string]any) []string {
	required, ok := schema["required"]
	if !ok {
		return nil
	}
	if arr, ok := required.([]string); ok {
		return arr
	}

	// JSON unmarshaling yields []any.
	iface, ok := required.([]any)
	if !ok {
		return nil
	}
	result := make([]string, 0, len(iface))
	for _, v := range iface {
		if s, ok := v.(string); ok {
			result = append(result, s)
		}
	}
	return result
}

func getSchemaProperties(schema map[string]any) map[string]map[string]any {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}
	result := make(map[string]map[string]any, len(props))
	for k, v := range props {
		if propSchema, ok := v.(map[string]any); ok {
			result[k] = propSchema
		}
	}
	return result
}

func validateFieldValue(fieldName string, value any, propSchema map[string]any) error {
	if value == nil {
		return nil
	}

	if schemaType, ok := propSchema["type"].(string); ok {
		if err := validateType(fieldName, value, schemaType); err != nil {
			return err
		}
	}
	return validateEnumValue(fieldName, value, propSchema)
}

// validateType checks a value against a JSON Schema primitive type.
func validateType(fieldName string, value any, expectedType string) error {
	switch expectedType {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("field %q must be a string, got %T", fieldName, value)
		}
	case "number":
		if !isNumber(value) {
			return fmt.Errorf("field %q must be a number, got %T", fieldName, value)
		}
	case "integer":
		if !isInteger(value) {
			return fmt.Errorf("field %q must be an integer, got %T", fieldName, value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("field %q must be a boolean, got %T", fieldName, value)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("field %q must be an array, got %T", fieldName, value)
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("field %q must be an object, got %T", fieldName, value)
		}
	}
	return nil
}

func isNumber(value any) bool {
	switch value.(type) {
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}

// isInteger accepts whole-number float64s because JSON unmarshaling to
// interface{} produces float64 for every number.
func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return v == float64(int64(v))
	case float32:
		return v == float32(int32(v))
	default:
		return false
	}
}

func validateEnumValue(fieldName string, value any, propSchema map[string]any) error {
	enumValues, ok := propSchema["enum"]
	if !ok {
		return nil
	}

	if enumStrings, ok := enumValues.([]string); ok {
		valueStr, ok := value.(string)
		if !ok {
			return fmt.Errorf("field %q must be a string for enum validation, got %T", fieldName, value)
		}
		if slices.Contains(enumStrings, valueStr) {
			return nil
		}
		return fmt.Errorf("field %q must be one of [%s], got %q", fieldName, strings.Join(enumStrings, ", "), valueStr)
	}

	if enumIface, ok := enumValues.([]any); ok {
		for _, allowed := range enumIface {
			if value == allowed {
				return nil
			}
		}
		allowedStrs := make([]string, 0, len(enumIface))
		for _, v := range enumIface {
			allowedStrs = append(allowedStrs, fmt.Sprintf("%v", v))
		}
		return fmt.Errorf("field %q must be one of [%s], got %v", fieldName, strings.Join(allowedStrs, ", "), value)
	}
	return nil
}
