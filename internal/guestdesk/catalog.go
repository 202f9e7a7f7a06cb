package guestdesk

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// catalogTexts is the full set of guest-facing copy. All fields are plain
// strings so the override file can replace any subset.
type catalogTexts struct {
	StatusReceived string `yaml:"status_received"`
	StatusDone     string `yaml:"status_done"`
	StatusDeclined string `yaml:"status_declined"`
	StatusChanged  string `yaml:"status_changed"`
	DoneFollowUp   string `yaml:"done_follow_up"`
	AdminReply     string `yaml:"admin_reply"`
	ReopenButton   string `yaml:"reopen_button"`
	ReplyButton    string `yaml:"reply_button"`
}

func defaultCatalogTexts() catalogTexts {
	return catalogTexts{
		StatusReceived: "📬 Ваше обращение получено в работу ✅",
		StatusDone:     "📬 Ваше обращение выполнено ✅",
		StatusDeclined: "📬 Ваше обращение отклонено ❌",
		StatusChanged:  "📬 Статус вашего обращения изменён: %s",
		DoneFollowUp:   "Если проблема не решена, нажмите кнопку 'Не решено' ниже.",
		AdminReply:     "📢 Ответ администратора на обращение #%d:\n\n%s",
		ReopenButton:   "Не решено",
		ReplyButton:    "Ответить",
	}
}

// Catalog renders the guest-facing message copy. Defaults are embedded;
// an optional YAML file overrides individual entries and is re-read when
// it changes on disk.
type Catalog struct {
	path   string
	logger Logger

	mu    sync.RWMutex
	texts catalogTexts
}

// NewCatalog builds a catalog from the embedded defaults, overlaid with
// the YAML file at path if path is non-empty. A missing override file is
// not an error; the defaults stand until the file appears.
func NewCatalog(path string, logger Logger) (*Catalog, error) {
	if logger == nil {
		logger = log.Default()
	}
	c := &Catalog{path: path, logger: logger, texts: defaultCatalogTexts()}
	if path != "" {
		if err := c.reload(); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) reload() error {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return err
	}
	overrides := catalogTexts{}
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return fmt.Errorf("parse catalog %s: %w", c.path, err)
	}
	texts := defaultCatalogTexts()
	applyOverride(&texts.StatusReceived, overrides.StatusReceived)
	applyOverride(&texts.StatusDone, overrides.StatusDone)
	applyOverride(&texts.StatusDeclined, overrides.StatusDeclined)
	applyOverride(&texts.StatusChanged, overrides.StatusChanged)
	applyOverride(&texts.DoneFollowUp, overrides.DoneFollowUp)
	applyOverride(&texts.AdminReply, overrides.AdminReply)
	applyOverride(&texts.ReopenButton, overrides.ReopenButton)
	applyOverride(&texts.ReplyButton, overrides.ReplyButton)

	c.mu.Lock()
	c.texts = texts
	c.mu.Unlock()
	return nil
}

func applyOverride(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// Watch re-reads the override file whenever it changes, until ctx is
// done. Watching the parent directory survives editors that replace the
// file by rename.
func (c *Catalog) Watch(ctx context.Context) error {
	if c.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(c.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := c.reload(); err != nil {
				if os.IsNotExist(err) {
					continue
				}
				c.logger.Printf("catalog reload failed: %v", err)
				continue
			}
			c.logger.Printf("catalog reloaded from %s", c.path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Printf("catalog watcher: %v", err)
		}
	}
}

// StatusText renders the notification body for a status transition.
func (c *Catalog) StatusText(status Status) string {
	c.mu.RLock()
	texts := c.texts
	c.mu.RUnlock()
	switch status {
	case StatusReceived:
		return texts.StatusReceived
	case StatusDone:
		return texts.StatusDone + "\n\n" + texts.DoneFollowUp
	case StatusDeclined:
		return texts.StatusDeclined
	default:
		return fmt.Sprintf(texts.StatusChanged, status)
	}
}

// ReplyText renders the notification body for an admin reply.
func (c *Catalog) ReplyText(appealID int64, message string) string {
	c.mu.RLock()
	format := c.texts.AdminReply
	c.mu.RUnlock()
	return fmt.Sprintf(format, appealID, message)
}

func (c *Catalog) ReopenButtonLabel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.texts.ReopenButton
}

func (c *Catalog) ReplyButtonLabel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.texts.ReplyButton
}
