package promo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"garagehub/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

type bannerFile struct {
	Banners []models.Banner `yaml:"banners"`
}

// LoadBanners reads a YAML file with a top-level "banners" list.
func LoadBanners(path string) ([]models.Banner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read banners: %w", err)
	}

	var file bannerFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse banners: %w", err)
	}

	out := file.Banners[:0]
	for _, b := range file.Banners {
		if b.ID == "" || b.ImageURL == "" {
			continue
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil, errors.New("no usable banners")
	}
	return out, nil
}

// Rotator cycles through banners on its own timer.
type Rotator struct {
	banners  []models.Banner
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.RWMutex
	current int

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewRotator(banners []models.Banner, interval time.Duration, logger *zerolog.Logger) *Rotator {
	if interval <= 0 {
		interval = models.BannerRotationInterval
	}
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "promo").Logger()
	}
	return &Rotator{
		banners:  append([]models.Banner(nil), banners...),
		interval: interval,
		logger:   base,
		done:     make(chan struct{}),
	}
}

// Current returns the banner on screen; false when there are none.
func (r *Rotator) Current() (models.Banner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.banners) == 0 {
		return models.Banner{}, false
	}
	return r.banners[r.current], true
}

// Advance moves to the next banner, wrapping around.
func (r *Rotator) Advance() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.banners) == 0 {
		return
	}
	r.current = (r.current + 1) % len(r.banners)
}

// Start launches the rotation goroutine. A single banner never rotates.
func (r *Rotator) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		if len(r.banners) < 2 {
			close(r.done)
			return
		}
		ctx, r.cancel = context.WithCancel(ctx)
		go r.run(ctx)
	})
}

func (r *Rotator) run(ctx context.Context) {
	defer close(r.done)
	t := time.NewTicker(r.interval)
	defer t.Stop()

	r.logger.Debug().Int("banners", len(r.banners)).Dur("interval", r.interval).Msg("banner rotation started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Advance()
		}
	}
}

// Stop cancels the timer and waits for the goroutine to exit.
func (r *Rotator) Stop() {
	r.stopOnce.Do(func() {
		started := false
		r.startOnce.Do(func() { close(r.done) })
		if r.cancel != nil {
			r.cancel()
			started = true
		}
		<-r.done
		if started {
			r.logger.Debug().Msg("banner rotation stopped")
		}
	})
}
