package speech

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hammamikhairi/tcmvoice/internal/logger"
)

// memLimit bounds the in-memory tier. Herb cards and doctor replies are
// mostly read once, so old entries are dropped first.
const memLimit = 256

// AudioCache keeps synthesized WAV audio in memory and, optionally, on
// disk. Entries are keyed by voice, prosody and text, so the same sentence
// read faster or higher is stored separately.
//
// Disk reads always happen when cacheDir is set; disk writes only when
// diskWrite is true.
type AudioCache struct {
	log       *logger.Logger
	voice     string
	cacheDir  string
	diskWrite bool

	mu     sync.RWMutex
	mem    map[string][]byte
	order  []string // insertion order for eviction
	hits   int64
	misses int64
}

// NewAudioCache creates an audio cache for one TTS voice. An empty cacheDir
// disables the disk tier.
func NewAudioCache(voice, cacheDir string, diskWrite bool, log *logger.Logger) *AudioCache {
	c := &AudioCache{
		log:       log.Named("cache"),
		voice:     voice,
		cacheDir:  cacheDir,
		diskWrite: diskWrite,
		mem:       make(map[string][]byte),
	}
	if cacheDir != "" && diskWrite {
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			c.log.Error("creating cache dir %s: %v", cacheDir, err)
		}
	}
	return c
}

// Get returns the cached audio for text at the given prosody.
func (c *AudioCache) Get(text string, rate, pitch float64) ([]byte, bool) {
	key := c.key(text, rate, pitch)

	c.mu.RLock()
	audio, ok := c.mem[key]
	c.mu.RUnlock()

	if !ok && c.cacheDir != "" {
		var err error
		if audio, err = os.ReadFile(c.path(key)); err == nil {
			ok = true
			c.remember(key, audio)
		}
	}

	c.mu.Lock()
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()

	if ok {
		c.log.Debug("hit: %s (%d bytes)", truncateForLog(text, 40), len(audio))
	}
	return audio, ok
}

// Put stores audio for text at the given prosody.
func (c *AudioCache) Put(text string, rate, pitch float64, audio []byte) {
	key := c.key(text, rate, pitch)
	c.remember(key, audio)
	c.log.Debug("store: %s (%d bytes)", truncateForLog(text, 40), len(audio))

	if c.cacheDir != "" && c.diskWrite {
		if err := c.persist(key, audio); err != nil {
			c.log.Error("disk write %s: %v", key[:12], err)
		}
	}
}

// Has reports whether audio for text is cached in memory or on disk.
func (c *AudioCache) Has(text string, rate, pitch float64) bool {
	key := c.key(text, rate, pitch)

	c.mu.RLock()
	_, ok := c.mem[key]
	c.mu.RUnlock()
	if ok || c.cacheDir == "" {
		return ok
	}
	_, err := os.Stat(c.path(key))
	return err == nil
}

// Stats returns hit and miss counts.
func (c *AudioCache) Stats() (hits, misses int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

// remember adds an entry to the memory tier, evicting the oldest past memLimit.
func (c *AudioCache) remember(key string, audio []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.mem[key]; !ok {
		c.order = append(c.order, key)
	}
	c.mem[key] = audio

	for len(c.order) > memLimit {
		delete(c.mem, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *AudioCache) key(text string, rate, pitch float64) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%.2f:%.2f:%s", c.voice, rate, pitch, text)))
	return hex.EncodeToString(h[:])
}

func (c *AudioCache) path(key string) string {
	return filepath.Join(c.cacheDir, key+".wav")
}

// persist writes through a temp file so a crash never leaves a truncated WAV.
func (c *AudioCache) persist(key string, audio []byte) error {
	tmp, err := os.CreateTemp(c.cacheDir, ".audio-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(audio); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), c.path(key))
}

func truncateForLog(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
