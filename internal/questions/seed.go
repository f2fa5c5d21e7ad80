package questions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

type seedEntry struct {
	Category string   `json:"category"`
	Question string   `json:"question"`
	Answers  []string `json:"answers"`
	Correct  string   `json:"correct"` // "A".."D"
}

// LoadSeed banks every question in the JSON file at path and returns how many
// were new. Questions already in the bank are skipped.
func LoadSeed(ctx context.Context, store Store, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed: %w", err)
	}
	var entries []seedEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return 0, fmt.Errorf("decode seed %s: %w", path, err)
	}

	added := 0
	for i, e := range entries {
		rec, err := Validate(e.Category, Candidate{Text: e.Question, Answers: e.Answers, Correct: e.Correct})
		if err != nil {
			return added, fmt.Errorf("seed entry %d: %w", i, err)
		}
		if rec.Category == "" {
			return added, fmt.Errorf("seed entry %d: missing category", i)
		}
		rec.ID = uuid.NewString()
		rec.CreatedAt = time.Now()

		err = store.Insert(ctx, rec)
		if errors.Is(err, ErrDuplicate) {
			continue
		}
		if err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}
