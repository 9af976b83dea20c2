package evaluation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WeightTable holds the configured coefficients combining the four component
// dimensions into a total score. The policy is institutional configuration,
// never code: academic is typically weighted 100% and the practice dimensions
// count as additive extra credit, but nothing here assumes that.
type WeightTable struct {
	Academic       float64 `json:"academic"`
	Innovation     float64 `json:"innovation"`
	Social         float64 `json:"social"`
	CulturalSports float64 `json:"cultural_sports"`
}

// Validate rejects weight tables that could never produce a meaningful total
func (w WeightTable) Validate() error {
	fields := map[string]float64{
		"academic":        w.Academic,
		"innovation":      w.Innovation,
		"social":          w.Social,
		"cultural_sports": w.CulturalSports,
	}

	anyPositive := false
	for name, v := range fields {
		if v < 0 {
			return fmt.Errorf("weight %s must be non-negative, got %v", name, v)
		}
		if v > 0 {
			anyPositive = true
		}
	}

	if !anyPositive {
		return fmt.Errorf("at least one weight must be positive")
	}

	return nil
}

// WeightedSum applies the table to a set of component scores
func (w WeightTable) WeightedSum(s ComponentScores) float64 {
	return w.Academic*s.Academic +
		w.Innovation*s.Innovation +
		w.Social*s.Social +
		w.CulturalSports*s.CulturalSports
}

// WeightStore manages weight tables stored as JSON files in the data directory
type WeightStore struct {
	dataDir string
}

// NewWeightStore creates a new weight store
func NewWeightStore(dataDir string) *WeightStore {
	return &WeightStore{dataDir: dataDir}
}

// Load loads the weight table for a policy name
func (ws *WeightStore) Load(policy string) (WeightTable, error) {
	filePath := filepath.Join(ws.dataDir, fmt.Sprintf("weights_%s.json", policy))

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		// Return default table if no policy file has been installed
		return ws.defaultTable(), nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		return WeightTable{}, fmt.Errorf("failed to open weight table: %w", err)
	}
	defer file.Close()

	var table WeightTable
	if err := json.NewDecoder(file).Decode(&table); err != nil {
		return WeightTable{}, fmt.Errorf("failed to decode weight table: %w", err)
	}

	if err := table.Validate(); err != nil {
		return WeightTable{}, fmt.Errorf("invalid weight table %s: %w", policy, err)
	}

	return table, nil
}

// Save persists a weight table for a policy name
func (ws *WeightStore) Save(policy string, table WeightTable) error {
	if err := table.Validate(); err != nil {
		return fmt.Errorf("invalid weight table: %w", err)
	}

	if err := os.MkdirAll(ws.dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create weight table directory: %w", err)
	}

	filePath := filepath.Join(ws.dataDir, fmt.Sprintf("weights_%s.json", policy))

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create weight table file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(table); err != nil {
		return fmt.Errorf("failed to encode weight table: %w", err)
	}

	return nil
}

// defaultTable returns the fallback weighting used until a policy file exists.
// Academic counts in full and the three practice dimensions are additive.
func (ws *WeightStore) defaultTable() WeightTable {
	return WeightTable{
		Academic:       1.0,
		Innovation:     1.0,
		Social:         1.0,
		CulturalSports: 1.0,
	}
}
