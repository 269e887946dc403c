// internal/reporting/sarif/reporter_test.go
package sarif

import (
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func str(s string) *string { return &s }

func TestLog_WireFieldNames(t *testing.T) {
	end := "2024-05-01T12:00:00Z"
	log := &Log{
		Version: "2.1.0",
		Schema:  "https://json.schemastore.org/sarif-2.1.0.json",
		Runs: []*Run{{
			Tool:        &Tool{Driver: &ToolComponent{Name: "scalpel-vapt", Version: str("1.0.0")}},
			Invocations: []*Invocation{{ExecutionSuccessful: true, EndTimeUTC: &end}},
			Results: []*Result{{
				RuleID:  "SCALPEL-JWT-NONE",
				Message: &Message{Text: str("JWT Uses 'alg: none'")},
				Level:   LevelError,
				PartialFingerprints: map[string]string{
					"primaryLocationLineHash": "abc123",
				},
			}},
		}},
	}

	raw, err := json.Marshal(log)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "2.1.0", decoded["version"])
	assert.Contains(t, decoded, "$schema")

	run := decoded["runs"].([]interface{})[0].(map[string]interface{})
	assert.NotContains(t, run, "properties", "nil property bags are omitted")

	driver := run["tool"].(map[string]interface{})["driver"].(map[string]interface{})
	assert.Equal(t, "1.0.0", driver["version"])
	assert.NotContains(t, driver, "informationUri")
	assert.NotContains(t, driver, "rules", "empty rule lists are omitted")

	invocation := run["invocations"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, true, invocation["executionSuccessful"])
	assert.Equal(t, end, invocation["endTimeUtc"])

	result := run["results"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "SCALPEL-JWT-NONE", result["ruleId"])
	assert.Equal(t, "error", result["level"])
	assert.NotContains(t, result, "locations")
	assert.Equal(t, "abc123", result["partialFingerprints"].(map[string]interface{})["primaryLocationLineHash"])
}

func TestRun_EmptyResultsStayAnArray(t *testing.T) {
	raw, err := json.Marshal(&Run{Tool: &Tool{Driver: &ToolComponent{Name: "scalpel-vapt"}}, Results: []*Result{}})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"results":[]`)
}

func TestMultiformatMessageString_TextIsRequired(t *testing.T) {
	raw, err := json.Marshal(&MultiformatMessageString{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":null}`, string(raw))
}
