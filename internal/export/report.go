package export

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ckd-screening-service/internal/domain"
)

const (
	reportWidth      = 80
	maxRoutineListed = 20
	maxWarningCodes  = 10
)

// reportWriter keeps the first write error so sections can be written unconditionally.
type reportWriter struct {
	w   io.Writer
	err error
}

func (r *reportWriter) printf(format string, args ...interface{}) {
	if r.err != nil {
		return
	}
	_, r.err = fmt.Fprintf(r.w, format, args...)
}

func (r *reportWriter) banner(title string) {
	r.printf("%s\n%s\n%s\n", strings.Repeat("=", reportWidth), title, strings.Repeat("=", reportWidth))
}

// WriteWorklistText writes a plain-text report of a run: the scan summary, the
// action distribution, the most common data-quality problems and the worklist itself.
func WriteWorklistText(w io.Writer, batch *domain.ScreeningBatch, worklist *domain.Worklist) error {
	if batch == nil || worklist == nil {
		return domain.NewValidationError("run", "batch and worklist are required", nil)
	}
	r := &reportWriter{w: w}
	s := batch.Summary

	r.banner("CKD SCREENING WORKLIST REPORT")
	r.printf("\nRun ID: %s\n", batch.RunID)
	r.printf("Evaluation Date: %s\n", batch.EvaluatedOn.Format(domain.DateLayout))
	r.printf("Total Patients Scanned: %d\n", s.PatientsScanned)
	r.printf("Patients In Screening Population: %d (%.1f%%)\n", s.PatientsQualified, s.QualifiedPercentage)
	r.printf("Patients Excluded: %d\n\n", s.PatientsExcluded)

	r.printf("ACTION DISTRIBUTION:\n%s\n", strings.Repeat("-", reportWidth))
	for _, action := range sortedActions(worklist.ByAction) {
		count := worklist.ByAction[action]
		pct := 0.0
		if len(worklist.Entries) > 0 {
			pct = float64(count) / float64(len(worklist.Entries)) * 100
		}
		r.printf("  %-20s : %3d patients (%5.1f%%)\n", action, count, pct)
	}
	r.printf("\nRISK LEVELS:\n%s\n", strings.Repeat("-", reportWidth))
	for _, level := range []domain.RiskLevel{domain.RiskHigh, domain.RiskMedium} {
		r.printf("  %-20s : %3d patients\n", level, s.ByRiskLevel[level])
	}

	r.printf("\n")
	r.banner("DATA-QUALITY WARNINGS (Most Common)")
	codes := warningFrequency(batch.Warnings)
	if len(codes) == 0 {
		r.printf("  No data-quality warnings.\n")
	}
	for i, wc := range codes {
		if i == maxWarningCodes {
			break
		}
		r.printf("%2d. %-25s : %3d\n", i+1, wc.code, wc.count)
	}

	sections := []struct {
		action domain.ActionCategory
		title  string
		limit  int
	}{
		{domain.ActionConfirmResults, "CONFIRM RESULTS (Abnormal Labs, Repeat Within 14 Days)", 0},
		{domain.ActionOrderLabs, "ORDER LABS (Screening Incomplete)", 0},
		{domain.ActionRoutineMonitoring, "ROUTINE MONITORING (Labs Normal)", maxRoutineListed},
	}
	for _, sec := range sections {
		r.printf("\n")
		r.banner(sec.title)
		listed := 0
		total := 0
		for _, entry := range worklist.Entries {
			if entry.ActionCategory != sec.action {
				continue
			}
			total++
			if sec.limit > 0 && listed == sec.limit {
				continue
			}
			listed++
			writeEntry(r, entry)
		}
		if total == 0 {
			r.printf("  No patients in this category.\n")
		} else if total > listed {
			r.printf("  ... and %d more\n", total-listed)
		}
	}

	r.printf("\n%s\n", strings.Repeat("=", reportWidth))
	return r.err
}

func writeEntry(r *reportWriter, entry domain.PriorityEntry) {
	c := entry.Classification
	r.printf("\n%s\n", patientLabel(c))
	r.printf("  Score: %d | Risk: %s | Primary Risk Factor: %s (%d total)\n",
		entry.PriorityScore, c.RiskLevel, c.PrimaryRiskFactor, c.RiskFactorCount)
	r.printf("  Status: %s [%s]\n", c.RiskStatus, c.AdvisoryFlag)
	if c.EGFR != nil || c.UACR != nil {
		r.printf("  Labs: eGFR %s, uACR %s\n", formatValue(c.EGFR), formatValue(c.UACR))
	}
	if len(c.MissingLabs) > 0 {
		r.printf("  Missing: %s\n", joinLabs(c.MissingLabs))
	}
	if c.Albuminuria != nil {
		t := c.Albuminuria
		r.printf("  Albuminuria: %.1f -> %.1f mg/g (%+.1f%% over %d days, %s)\n",
			t.PreviousValue, t.CurrentValue, t.PercentChange, t.DaysBetween, t.Worsening)
	}
	r.printf("  Next Action: %s\n", c.NextActionDate.Format(domain.DateLayout))
	r.printf("  -> %s\n", c.Recommendation)
}

func patientLabel(c domain.Classification) string {
	label := c.PatientID
	if c.PatientName != "" {
		label = c.PatientName + " (" + c.PatientID + ")"
	}
	if c.MRN != "" {
		label += " MRN " + c.MRN
	}
	return label
}

func formatValue(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f", *v)
}

type warningCount struct {
	code  string
	count int
}

func warningFrequency(warnings []domain.DataQualityWarning) []warningCount {
	counts := make(map[string]int)
	for _, w := range warnings {
		counts[w.Code]++
	}
	out := make([]warningCount, 0, len(counts))
	for code, n := range counts {
		out = append(out, warningCount{code: code, count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].code < out[j].code
	})
	return out
}
