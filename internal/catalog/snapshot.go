package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/curatelabs/selection-engine/internal/textutil"
)

// SnapshotSource serves candidates from an in-memory catalog snapshot. The
// CLI and tests use it; production deployments implement Source against the
// live catalog API.
type SnapshotSource struct {
	candidates   []Candidate
	descriptions map[string]string
}

// snapshotFile is the on-disk JSON shape for a catalog snapshot.
type snapshotFile struct {
	Candidates   []Candidate       `json:"candidates"`
	Descriptions map[string]string `json:"descriptions,omitempty"`
}

// NewSnapshotSource creates a snapshot source from an already-loaded pool.
func NewSnapshotSource(pool []Candidate, descriptions map[string]string) *SnapshotSource {
	if descriptions == nil {
		descriptions = map[string]string{}
	}
	return &SnapshotSource{
		candidates:   NormalizeAll(pool),
		descriptions: descriptions,
	}
}

// LoadSnapshot reads a catalog snapshot from a JSON file.
func LoadSnapshot(path string) (*SnapshotSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var file snapshotFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}

	return NewSnapshotSource(file.Candidates, file.Descriptions), nil
}

// SaveSnapshot writes a catalog snapshot to a JSON file.
func SaveSnapshot(path string, pool []Candidate, descriptions map[string]string) error {
	data, err := json.MarshalIndent(snapshotFile{
		Candidates:   pool,
		Descriptions: descriptions,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Len returns the number of candidates in the snapshot.
func (s *SnapshotSource) Len() int {
	return len(s.candidates)
}

// FetchByFilter returns up to limit candidates, optionally restricted to a
// collection label.
func (s *SnapshotSource) FetchByFilter(ctx context.Context, shopRef string, limit int, collection string) ([]Candidate, error) {
	out := make([]Candidate, 0, limit)
	for _, c := range s.candidates {
		if collection != "" && !hasCollection(c, collection) {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// FetchByQuery returns candidates whose haystack contains any query token.
func (s *SnapshotSource) FetchByQuery(ctx context.Context, shopRef, query string, targetCount int) ([]Candidate, error) {
	tokens := textutil.Tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	out := make([]Candidate, 0, targetCount)
	for _, c := range s.candidates {
		for _, tok := range tokens {
			if textutil.ContainsToken(c.SearchText, tok) {
				out = append(out, c)
				break
			}
		}
		if targetCount > 0 && len(out) >= targetCount {
			break
		}
	}
	return out, nil
}

// FetchDescriptions returns descriptions for the requested handles.
func (s *SnapshotSource) FetchDescriptions(ctx context.Context, handles []string) (map[string]string, error) {
	out := make(map[string]string, len(handles))
	for _, h := range handles {
		if desc, ok := s.descriptions[h]; ok {
			out[h] = desc
		}
	}
	return out, nil
}

func hasCollection(c Candidate, collection string) bool {
	collection = strings.ToLower(strings.TrimSpace(collection))
	for _, col := range c.Collections {
		if strings.ToLower(col) == collection {
			return true
		}
	}
	return false
}
