package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Loader installs and resolves classes in the worker.
type Loader interface {
	Load(name string, bytes []byte) error
	AddToClasspath(path string) error
	// Class returns the bytes of name if the loader can resolve it.
	Class(name string) ([]byte, bool)
}

// Redefiner is implemented by loaders that can replace loaded classes.
type Redefiner interface {
	Redefine(name string, bytes []byte) error
}

// ClassBytes returns the bytes the running agent resolves for name. It is
// meant for programs, whose ctx carries the agent.
func ClassBytes(ctx context.Context, name string) ([]byte, bool) {
	a, ok := ctx.Value(agentKey{}).(*Agent)
	if !ok {
		return nil, false
	}

	return a.loader.Class(name)
}

// MemoryLoader keeps installed class bytes in memory.
type MemoryLoader struct {
	mu        sync.RWMutex
	classes   map[string][]byte
	classpath []string
}

var (
	_ Loader    = (*MemoryLoader)(nil)
	_ Redefiner = (*MemoryLoader)(nil)
)

// NewMemoryLoader creates an empty loader.
func NewMemoryLoader() *MemoryLoader {
	return &MemoryLoader{classes: make(map[string][]byte)}
}

func (l *MemoryLoader) Load(name string, bytes []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.classes[name]; ok {
		return fmt.Errorf("duplicate class definition: %s", name)
	}

	l.classes[name] = slices.Clone(bytes)

	return nil
}

func (l *MemoryLoader) Redefine(name string, bytes []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.classes[name]; !ok {
		return fmt.Errorf("class not loaded: %s", name)
	}

	l.classes[name] = slices.Clone(bytes)

	return nil
}

func (l *MemoryLoader) AddToClasspath(path string) error {
	if path == "" {
		return fmt.Errorf("empty class path entry")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.classpath = append(l.classpath, path)

	return nil
}

// Class returns the bytes of a loaded class. Classes that were never loaded
// are looked up as "<name>.class" files below the class path directories,
// with dots in name mapped to path separators.
func (l *MemoryLoader) Class(name string) ([]byte, bool) {
	l.mu.RLock()
	b, ok := l.classes[name]
	classpath := slices.Clone(l.classpath)
	l.mu.RUnlock()

	if ok {
		return b, true
	}

	rel := filepath.FromSlash(strings.ReplaceAll(name, ".", "/")) + ".class"

	for _, dir := range classpath {
		data, err := os.ReadFile(filepath.Join(dir, rel))
		if err == nil {
			return data, true
		}
	}

	return nil, false
}

// Classpath returns the added class path entries in order.
func (l *MemoryLoader) Classpath() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return slices.Clone(l.classpath)
}
