package pipeline

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CleaningRule rejects a row by returning an error.
type CleaningRule interface {
	Apply(columns, row []string) error
	Name() string
}

// QualityIssue records why a row was dropped.
type QualityIssue struct {
	Rule    string `json:"rule"`
	Line    int    `json:"line"`
	Message string `json:"message"`
}

type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Issues         map[string]int64 `json:"issues"`
	LastClean      time.Time        `json:"last_clean"`
}

// maxIssues bounds the issues kept per Clean call; stats still count all.
const maxIssues = 1000

// DataCleaner filters dataset rows through its rules. A row failing any rule
// is dropped; nothing is imputed.
type DataCleaner struct {
	rules  []CleaningRule
	logger *zap.Logger

	stats     CleaningStats
	statsLock sync.RWMutex
}

func NewDataCleaner(logger *zap.Logger) *DataCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	cleaner := &DataCleaner{
		logger: logger,
		stats:  CleaningStats{Issues: make(map[string]int64)},
	}
	cleaner.AddRule(NewMissingValueRule())
	return cleaner
}

func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
	dc.logger.Debug("added cleaning rule", zap.String("rule", rule.Name()))
}

// Clean returns a new dataset holding only the rows that pass every rule.
func (dc *DataCleaner) Clean(ds *Dataset) (*Dataset, []QualityIssue) {
	dc.statsLock.Lock()
	defer dc.statsLock.Unlock()

	cleaned := &Dataset{
		Columns: ds.Columns,
		Rows:    make([][]string, 0, len(ds.Rows)),
		Lines:   make([]int, 0, len(ds.Rows)),
	}
	var issues []QualityIssue

	for i, row := range ds.Rows {
		dc.stats.TotalProcessed++
		line := 0
		if i < len(ds.Lines) {
			line = ds.Lines[i]
		}

		rejected := false
		for _, rule := range dc.rules {
			if err := rule.Apply(ds.Columns, row); err != nil {
				rejected = true
				dc.stats.Issues[rule.Name()]++
				if len(issues) < maxIssues {
					issues = append(issues, QualityIssue{Rule: rule.Name(), Line: line, Message: err.Error()})
				}
				break
			}
		}
		if rejected {
			dc.stats.Rejected++
			continue
		}
		dc.stats.Passed++
		cleaned.Rows = append(cleaned.Rows, row)
		cleaned.Lines = append(cleaned.Lines, line)
	}
	dc.stats.LastClean = time.Now()

	dc.logger.Info("dataset cleaned",
		zap.Int("rows_in", len(ds.Rows)),
		zap.Int("rows_out", len(cleaned.Rows)),
		zap.Int("dropped", len(ds.Rows)-len(cleaned.Rows)),
	)
	return cleaned, issues
}

func (dc *DataCleaner) Stats() CleaningStats {
	dc.statsLock.RLock()
	defer dc.statsLock.RUnlock()

	out := dc.stats
	out.Issues = make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		out.Issues[k] = v
	}
	return out
}

// missingMarkers are the cell spellings read as a missing value.
var missingMarkers = map[string]bool{
	"":         true,
	"#N/A":     true,
	"#N/A N/A": true,
	"#NA":      true,
	"-1.#IND":  true,
	"-1.#QNAN": true,
	"-NaN":     true,
	"-nan":     true,
	"1.#IND":   true,
	"1.#QNAN":  true,
	"<NA>":     true,
	"N/A":      true,
	"NA":       true,
	"NULL":     true,
	"NaN":      true,
	"None":     true,
	"n/a":      true,
	"nan":      true,
	"null":     true,
}

// IsMissing reports whether a raw cell counts as a missing value.
func IsMissing(cell string) bool {
	return missingMarkers[strings.TrimSpace(cell)]
}

// MissingValueRule drops rows with a missing value in any column.
type MissingValueRule struct{}

func NewMissingValueRule() *MissingValueRule {
	return &MissingValueRule{}
}

func (r *MissingValueRule) Name() string {
	return "missing_value"
}

func (r *MissingValueRule) Apply(columns, row []string) error {
	for i, cell := range row {
		if IsMissing(cell) {
			col := fmt.Sprintf("#%d", i+1)
			if i < len(columns) {
				col = columns[i]
			}
			return fmt.Errorf("missing value in column %s", col)
		}
	}
	return nil
}
