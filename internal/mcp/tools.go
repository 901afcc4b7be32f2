package mcp

import (
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ckd-screening-service/internal/domain"
)

const datePattern = `^\d{4}-\d{2}-\d{2}$`

// ClassifyPatientsParams defines parameters for the classify_patients tool
type ClassifyPatientsParams struct {
	Today        string                     `json:"today"`
	Patients     []domain.PatientRecord     `json:"patients"`
	Observations []domain.ObservationRecord `json:"observations,omitempty"`
}

// RankWorklistParams defines parameters for the rank_worklist tool
type RankWorklistParams struct {
	Today           string                  `json:"today"`
	Classifications []domain.Classification `json:"classifications"`
}

// ScreenPatientsParams defines parameters for the screen_patients tool
type ScreenPatientsParams struct {
	Today     string `json:"today"`
	InputFile string `json:"input_file,omitempty"`
	Export    string `json:"export,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// GetScreeningRunParams defines parameters for the get_screening_run tool
type GetScreeningRunParams struct {
	RunID string `json:"run_id,omitempty"`
}

// ListScreeningRunsParams defines parameters for the list_screening_runs tool
type ListScreeningRunsParams struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

func todaySchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Pattern:     datePattern,
		Description: "Evaluation date (YYYY-MM-DD). Lookback windows and next action dates are relative to it.",
	}
}

func patientSchema() *jsonschema.Schema {
	flag := func(desc string) *jsonschema.Schema {
		return &jsonschema.Schema{Type: "boolean", Description: desc}
	}
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"id":            {Type: "string", Description: "Patient identifier, unique within the request"},
			"mrn":           {Type: "string"},
			"name":          {Type: "string"},
			"date_of_birth": {Type: "string", Pattern: datePattern},
			"risk_factors": {
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"diabetes":            flag("Diabetes mellitus"),
					"hypertension":        flag("Hypertension"),
					"heart_failure":       flag("Heart failure"),
					"cad":                 flag("Coronary artery disease"),
					"obesity":             flag("Obesity"),
					"cvd_history":         flag("History of cardiovascular disease"),
					"family_history_esrd": flag("Family history of end-stage renal disease"),
				},
			},
		},
		Required: []string{"id"},
	}
}

func observationSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"id":         {Type: "string"},
			"patient_id": {Type: "string"},
			"type": {
				Type:        "string",
				Description: "Lab type: eGFR, uACR, HbA1c, BP_systolic, BP_diastolic. Other types are reported and ignored.",
			},
			"value":       {Types: []string{"number", "null"}},
			"observed_at": {Type: "string", Description: "YYYY-MM-DD or RFC 3339 timestamp"},
		},
		Required: []string{"patient_id", "type", "observed_at"},
	}
}

func classifyPatientsTool() *mcp.Tool {
	return &mcp.Tool{
		Name: "classify_patients",
		Description: "Run patients through the CKD screening funnel (lab completeness, triage, lab sufficiency, " +
			"risk classification) and return one classification per qualified patient plus data quality warnings.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"today":        todaySchema(),
				"patients":     {Type: "array", Items: patientSchema()},
				"observations": {Type: "array", Items: observationSchema()},
			},
			Required: []string{"today", "patients"},
		},
	}
}

func rankWorklistTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "rank_worklist",
		Description: "Score classifications produced by classify_patients and return the prioritized worklist.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"today": todaySchema(),
				"classifications": {
					Type:        "array",
					Items:       &jsonschema.Schema{Type: "object"},
					Description: "Classification objects as returned by classify_patients",
				},
			},
			Required: []string{"today", "classifications"},
		},
	}
}

func screenPatientsTool() *mcp.Tool {
	return &mcp.Tool{
		Name: "screen_patients",
		Description: "Screen every patient in a JSON input file, store the run, and return the top of the " +
			"worklist. Optionally writes a text or xlsx worklist to the export directory.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"today": todaySchema(),
				"input_file": {
					Type:        "string",
					Description: "Path to a {patients, observations} JSON document. Defaults to CKD_PATIENTS_FILE.",
				},
				"export": {Type: "string", Enum: []interface{}{"", "text", "xlsx"}},
				"limit":  {Type: "integer", Minimum: ptr(0), Description: "Worklist entries to return (default 25)"},
			},
			Required: []string{"today"},
		},
	}
}

func getScreeningRunTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "get_screening_run",
		Description: "Return a stored screening run by ID, or the most recent run when no ID is given.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"run_id": {Type: "string"},
			},
		},
	}
}

func listScreeningRunsTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "list_screening_runs",
		Description: "List stored screening runs, newest first.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"limit":  {Type: "integer", Minimum: ptr(1), Maximum: ptr(200)},
				"offset": {Type: "integer", Minimum: ptr(0)},
			},
		},
	}
}

func ptr(f float64) *float64 {
	return &f
}
