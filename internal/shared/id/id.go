// Package id provides prefixed ULID generation for jobs and sessions.
// ULIDs are lexicographically sortable, so job ids order by creation time,
// and the prefix makes log lines self-describing.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Prefixes for generated ids.
const (
	JobPrefix     = "job"
	SessionPrefix = "sess"
)

// Generator generates ULIDs from a shared entropy source.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator backed by crypto/rand.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = &Generator{entropy: rand.Reader}
	})
	return defaultGenerator
}

// Generate creates a new ULID string.
func (g *Generator) Generate() string {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate())
}

// NewJobID generates a new generation job id.
func NewJobID() string {
	return Default().GenerateWithPrefix(JobPrefix)
}

// NewSessionID generates a new session owner id.
func NewSessionID() string {
	return Default().GenerateWithPrefix(SessionPrefix)
}
