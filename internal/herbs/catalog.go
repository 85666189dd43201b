// Package herbs holds the herb catalog shown on the herb page.
package herbs

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/hammamikhairi/tcmvoice/internal/domain"
	"github.com/hammamikhairi/tcmvoice/internal/logger"
)

//go:embed herbs.json
var defaultHerbs []byte

// ErrSmartSearch is returned when the Q&A service gave no usable answer.
var ErrSmartSearch = errors.New("smart search failed")

// smartSearchPrompt is the question sent for an AI lookup of one herb.
const smartSearchPrompt = `请详细介绍中药"%s"的功效、用法、禁忌和注意事项`

// Catalog is an in-memory herb list. Safe for concurrent reads.
type Catalog struct {
	mu    sync.RWMutex
	herbs []domain.Herb
	log   *logger.Logger
}

// NewCatalog creates a catalog from the built-in herb list.
func NewCatalog(log *logger.Logger) (*Catalog, error) {
	return Parse(defaultHerbs, log)
}

// LoadFile creates a catalog from a JSON file of [{name, desc, img}].
func LoadFile(path string, log *logger.Logger) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading herb catalog: %w", err)
	}
	return Parse(raw, log)
}

// Parse decodes a JSON herb list.
func Parse(raw []byte, log *logger.Logger) (*Catalog, error) {
	var herbs []domain.Herb
	if err := json.Unmarshal(raw, &herbs); err != nil {
		return nil, fmt.Errorf("parsing herb catalog: %w", err)
	}
	log = log.Named("herbs")
	log.Debug("loaded %d herbs", len(herbs))
	return &Catalog{herbs: herbs, log: log}, nil
}

// All returns every herb in catalog order.
func (c *Catalog) All() []domain.Herb {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.Herb(nil), c.herbs...)
}

// Search returns herbs whose name or description contains query,
// case-insensitively. An empty query matches everything.
func (c *Catalog) Search(query string) []domain.Herb {
	q := strings.ToLower(strings.TrimSpace(query))

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []domain.Herb
	for _, h := range c.herbs {
		if q == "" || matches(h, q) {
			out = append(out, h)
		}
	}
	c.log.Debug("search %q: %d results", q, len(out))
	return out
}

func matches(h domain.Herb, q string) bool {
	return strings.Contains(strings.ToLower(h.Name), q) ||
		strings.Contains(strings.ToLower(h.Desc), q)
}

// ReadAloudText is what gets spoken for one herb card.
func ReadAloudText(h domain.Herb) string {
	return h.Name + "，" + h.Desc
}

// SmartSearch asks the Q&A service about one herb, without chat history.
func SmartSearch(ctx context.Context, client domain.QAClient, userID, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", domain.ErrInvalidInput
	}
	resp, err := client.Ask(ctx, domain.QARequest{
		UserID:  userID,
		Query:   fmt.Sprintf(smartSearchPrompt, query),
		History: []domain.ChatTurn{},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSmartSearch, err)
	}
	if resp.Code != 200 || resp.Data == nil || resp.Data.Answer == "" {
		return "", fmt.Errorf("%w: code %d %s", ErrSmartSearch, resp.Code, resp.Msg)
	}
	return resp.Data.Answer, nil
}
