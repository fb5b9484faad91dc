package trip

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/tripsync/internal/model"
)

// IDGenerator produces temporary ids for locally created entries.
// Implemented by TempIDs (production) and FixedIDs (tests).
type IDGenerator interface {
	NewTempID() string
}

// TempIDs generates "tmp_<unix-millis>_<random>" ids.
//
// The random part is the first block of a UUIDv4.
type TempIDs struct {
	// Now defaults to time.Now.
	Now func() time.Time
}

// NewTempID implements IDGenerator.
func (g TempIDs) NewTempID() string {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	random, _, _ := strings.Cut(uuid.NewString(), "-")
	return model.TempIDPrefix + strconv.FormatInt(now().UnixMilli(), 10) + "_" + random
}

// FixedIDs returns predetermined temporary ids in order.
//
// Once the list is exhausted it falls back to "tmp_<n>" so long scenarios do
// not need to enumerate every id.
type FixedIDs struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedIDs creates a generator that returns ids in order.
func NewFixedIDs(ids ...string) *FixedIDs {
	return &FixedIDs{ids: ids}
}

// NewTempID implements IDGenerator.
func (g *FixedIDs) NewTempID() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.idx++
	if g.idx <= len(g.ids) {
		return g.ids[g.idx-1]
	}
	return fmt.Sprintf("%s%d", model.TempIDPrefix, g.idx)
}
