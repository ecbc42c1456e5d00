package projection

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/Mschirtzinger/todomd/internal/markdown"
	"github.com/Mschirtzinger/todomd/internal/store"
)

// ShadowConfig holds configuration for a Shadow writer.
type ShadowConfig struct {
	// Path of the shadow document.
	Path string

	// Debounce is how long to wait after a change before rewriting, so a
	// burst of mutations produces one write.
	Debounce time.Duration

	// Logger for writer activity.
	Logger *log.Logger
}

// DefaultShadowConfig returns sensible defaults for path.
func DefaultShadowConfig(path string) *ShadowConfig {
	return &ShadowConfig{
		Path:     path,
		Debounce: 100 * time.Millisecond,
		Logger:   log.New(os.Stderr, "[shadow] ", log.LstdFlags),
	}
}

// Shadow keeps a Markdown export of the store on disk, rewritten after
// every committed change. The git sync worker watches this file.
type Shadow struct {
	st     *store.Store
	config *ShadowConfig

	kick        chan struct{}
	done        chan struct{}
	unsubscribe func()
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

// NewShadow creates a shadow writer. Call Start to begin following the
// store.
func NewShadow(st *store.Store, config *ShadowConfig) (*Shadow, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config == nil || config.Path == "" {
		return nil, fmt.Errorf("shadow path cannot be empty")
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[shadow] ", log.LstdFlags)
	}
	return &Shadow{
		st:     st,
		config: config,
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}, nil
}

// Start writes the shadow once and then follows store notifications.
func (s *Shadow) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("shadow writer already running")
	}
	if _, err := s.Write(ctx); err != nil {
		return err
	}

	s.unsubscribe = s.st.Subscribe(func(store.Notification) {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	})
	s.running = true
	s.wg.Add(1)
	go s.loop()

	s.config.Logger.Printf("Writing %s", s.config.Path)
	return nil
}

// Stop unsubscribes from the store and waits for a pending write.
func (s *Shadow) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.unsubscribe()
	close(s.done)
	s.wg.Wait()
	return nil
}

// Write renders the store to the shadow path. It reports whether the file
// changed.
func (s *Shadow) Write(ctx context.Context) (bool, error) {
	var doc bytes.Buffer
	if err := markdown.Export(ctx, s.st, &doc, nil); err != nil {
		return false, fmt.Errorf("failed to render shadow: %w", err)
	}
	return writeFile(s.config.Path, doc.Bytes())
}

func (s *Shadow) loop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case <-s.kick:
		}

		if s.config.Debounce > 0 {
			timer := time.NewTimer(s.config.Debounce)
			select {
			case <-s.done:
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		// Kicks that arrived during the wait are covered by this write.
		select {
		case <-s.kick:
		default:
		}

		if _, err := s.Write(context.Background()); err != nil {
			s.config.Logger.Printf("Error writing shadow: %v", err)
		}
	}
}
