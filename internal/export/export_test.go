package export

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ckd-screening-service/internal/domain"
)

var today = time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

func fptr(v float64) *float64 { return &v }

func testRun() (*domain.ScreeningBatch, *domain.Worklist) {
	abnormal := domain.Classification{
		PatientID:         "P001",
		PatientName:       "Ada Moss",
		MRN:               "MRN-001",
		Branch:            domain.BranchLabsAvailable,
		RiskLevel:         domain.RiskHigh,
		RiskStatus:        domain.StatusAbnormalResults,
		AdvisoryFlag:      domain.AdvisoryAbnormal,
		Recommendation:    "Repeat eGFR within 14 days",
		MissingLabs:       []domain.LabType{},
		NextActionDate:    today.AddDate(0, 0, 14),
		RiskFactorCount:   3,
		PrimaryRiskFactor: "Diabetes",
		EGFR:              fptr(42),
		UACR:              fptr(120),
		Albuminuria: &domain.AlbuminuriaTrend{
			CurrentValue: 120, PreviousValue: 60, PercentChange: 100, DaysBetween: 90,
			Worsening: domain.WorseningCategoryProgression, IsWorsening: true,
		},
	}
	missing := domain.Classification{
		PatientID:         "P002",
		Branch:            domain.BranchMissingData,
		RiskLevel:         domain.RiskHigh,
		RiskStatus:        domain.StatusScreeningNeeded,
		AdvisoryFlag:      domain.AdvisoryIncomplete,
		Recommendation:    "Order eGFR and uACR",
		MissingLabs:       []domain.LabType{domain.LabEGFR, domain.LabUACR},
		NextActionDate:    today,
		RiskFactorCount:   1,
		PrimaryRiskFactor: "Hypertension",
	}
	batch := &domain.ScreeningBatch{
		RunID:           "run-7",
		EvaluatedOn:     today,
		Classifications: []domain.Classification{abnormal, missing},
		Warnings: []domain.DataQualityWarning{
			{PatientID: "P002", Code: domain.WarnNullLabValue},
			{PatientID: "P003", Code: domain.WarnNullLabValue},
			{PatientID: "P003", Code: domain.WarnMissingDateOfBirth},
		},
		Summary: domain.ScreeningSummary{
			PatientsScanned:     4,
			PatientsQualified:   2,
			PatientsExcluded:    2,
			QualifiedPercentage: 50,
			ByRiskLevel:         map[domain.RiskLevel]int{domain.RiskHigh: 2},
			WarningCount:        3,
		},
	}
	worklist := &domain.Worklist{
		RunID:       "run-7",
		EvaluatedOn: today,
		GeneratedAt: today.Add(7 * time.Hour),
		Entries: []domain.PriorityEntry{
			{Classification: abnormal, PriorityScore: 180, ActionCategory: domain.ActionConfirmResults},
			{Classification: missing, PriorityScore: 160, ActionCategory: domain.ActionOrderLabs},
		},
		ByAction: map[domain.ActionCategory]int{
			domain.ActionConfirmResults: 1,
			domain.ActionOrderLabs:      1,
		},
	}
	return batch, worklist
}

func TestWriteWorklistXLSX(t *testing.T) {
	_, worklist := testRun()
	var buf bytes.Buffer

	require.NoError(t, WriteWorklistXLSX(&buf, worklist))

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{WorklistSheet, SummarySheet}, f.GetSheetList())

	rows, err := f.GetRows(WorklistSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, WorklistHeader, rows[0])

	first := rows[1]
	assert.Equal(t, "1", first[0])
	assert.Equal(t, "180", first[1])
	assert.Equal(t, "CONFIRM_RESULTS", first[2])
	assert.Equal(t, "P001", first[3])
	assert.Equal(t, "42", first[11])
	assert.Equal(t, "2024-06-29", first[14])
	assert.Equal(t, "CATEGORY_PROGRESSION (+100.0%)", first[16])

	second := rows[2]
	assert.Equal(t, "ORDER_LABS", second[2])
	assert.Equal(t, "", second[11])
	assert.Equal(t, "eGFR, uACR", second[13])

	summary, err := f.GetRows(SummarySheet)
	require.NoError(t, err)
	assert.Equal(t, []string{"Run ID", "run-7"}, summary[0])
	assert.Equal(t, []string{"CONFIRM_RESULTS", "1"}, summary[6])
	assert.Equal(t, []string{"ORDER_LABS", "1"}, summary[7])
}

func TestWriteWorklistXLSX_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteWorklistXLSX(&buf, &domain.Worklist{RunID: "empty", EvaluatedOn: today}))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(WorklistSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	assert.Error(t, WriteWorklistXLSX(&bytes.Buffer{}, nil))
}

func TestWriteWorklistText(t *testing.T) {
	batch, worklist := testRun()
	var buf bytes.Buffer

	require.NoError(t, WriteWorklistText(&buf, batch, worklist))
	report := buf.String()

	assert.Contains(t, report, "CKD SCREENING WORKLIST REPORT")
	assert.Contains(t, report, "Evaluation Date: 2024-06-15")
	assert.Contains(t, report, "Patients In Screening Population: 2 (50.0%)")
	assert.Contains(t, report, "  CONFIRM_RESULTS      :   1 patients ( 50.0%)")
	assert.Contains(t, report, " 1. NULL_LAB_VALUE            :   2")
	assert.Contains(t, report, " 2. MISSING_DATE_OF_BIRTH     :   1")
	assert.Contains(t, report, "Ada Moss (P001) MRN MRN-001")
	assert.Contains(t, report, "Labs: eGFR 42.0, uACR 120.0")
	assert.Contains(t, report, "Albuminuria: 60.0 -> 120.0 mg/g (+100.0% over 90 days, CATEGORY_PROGRESSION)")
	assert.Contains(t, report, "Missing: eGFR, uACR")
	assert.Contains(t, report, "No patients in this category.")

	confirm := strings.Index(report, "CONFIRM RESULTS (")
	order := strings.Index(report, "ORDER LABS (")
	assert.Less(t, confirm, order)
}

func TestWriteWorklistText_TruncatesRoutine(t *testing.T) {
	batch, worklist := testRun()
	worklist.Entries = nil
	for i := 0; i < maxRoutineListed+5; i++ {
		worklist.Entries = append(worklist.Entries, domain.PriorityEntry{
			Classification: domain.Classification{PatientID: "R", NextActionDate: today},
			PriorityScore:  10,
			ActionCategory: domain.ActionRoutineMonitoring,
		})
	}

	var buf bytes.Buffer
	require.NoError(t, WriteWorklistText(&buf, batch, worklist))

	assert.Contains(t, buf.String(), "... and 5 more")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriteWorklistText_Errors(t *testing.T) {
	batch, worklist := testRun()

	assert.EqualError(t, WriteWorklistText(failingWriter{}, batch, worklist), "disk full")

	var verr *domain.ValidationError
	assert.ErrorAs(t, WriteWorklistText(&bytes.Buffer{}, nil, worklist), &verr)
}
