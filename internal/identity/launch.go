package identity

import (
	"sync"

	"github.com/Frozertiru-gif/Kina/internal/tg"
)

// LaunchURL holds the URL the Mini App was opened with and exposes its
// query and fragment init-data parameters as two sources.
type LaunchURL struct {
	mu  sync.RWMutex
	raw string
}

// NewLaunchURL returns a LaunchURL preset to raw.
func NewLaunchURL(raw string) *LaunchURL {
	return &LaunchURL{raw: raw}
}

// Set replaces the launch URL.
func (l *LaunchURL) Set(raw string) {
	l.mu.Lock()
	l.raw = raw
	l.mu.Unlock()
}

func (l *LaunchURL) get() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.raw
}

// Query reads ?tgWebAppData=.
func (l *LaunchURL) Query() Source {
	return SourceFunc(func() string {
		q, _ := tg.LaunchParams(l.get())
		return q
	})
}

// Fragment reads #...&tgWebAppData=.
func (l *LaunchURL) Fragment() Source {
	return SourceFunc(func() string {
		_, f := tg.LaunchParams(l.get())
		return f
	})
}
