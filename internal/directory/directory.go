package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Contact is a single address book entry.
type Contact struct {
	ID         string `toml:"id" yaml:"id" json:"id"`
	Name       string `toml:"name" yaml:"name" json:"name"`
	Email      string `toml:"email" yaml:"email" json:"email"`
	Department string `toml:"department,omitempty" yaml:"department,omitempty" json:"department,omitempty"`
	Role       string `toml:"role,omitempty" yaml:"role,omitempty" json:"role,omitempty"`
	Phone      string `toml:"phone,omitempty" yaml:"phone,omitempty" json:"phone,omitempty"`
	// Owner is the user whose private contact this is; empty means shared.
	Owner string `toml:"owner,omitempty" yaml:"owner,omitempty" json:"owner,omitempty"`
}

// Label renders "Name (Role) - Department" for prompts and summaries.
func (c Contact) Label() string {
	parts := []string{c.Name}
	if c.Role != "" {
		parts = append(parts, "("+c.Role+")")
	}
	if c.Department != "" {
		parts = append(parts, "- "+c.Department)
	}
	return strings.Join(parts, " ")
}

// Scope limits lookups to what a requesting user may see.
type Scope struct {
	UserID     string
	Privileged bool
}

func (s Scope) allows(c Contact) bool {
	return s.Privileged || c.Owner == "" || c.Owner == s.UserID
}

// Book is the on-disk address book document.
type Book struct {
	User     Contact   `toml:"user" yaml:"user" json:"user"`
	Contacts []Contact `toml:"contacts" yaml:"contacts" json:"contacts"`
}

// Directory resolves participant references against an address book file.
// The book is cached and re-read once the TTL expires or the cache is invalidated.
type Directory struct {
	path   string
	cache  *bookCache
	mu     sync.Mutex // serializes writes to the file
	logger *slog.Logger
}

func New(path string, ttl time.Duration, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Directory{
		path:   path,
		cache:  newBookCache(ttl),
		logger: logger,
	}
}

func (d *Directory) Path() string {
	return d.path
}

// Invalidate forces the next lookup to re-read the file.
func (d *Directory) Invalidate() {
	d.cache.Invalidate()
}

func (d *Directory) load() (*Book, error) {
	if cached := d.cache.Get(); cached != nil {
		return cached, nil
	}

	data, err := os.ReadFile(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			book := &Book{}
			d.cache.Set(book)
			return book, nil
		}
		return nil, fmt.Errorf("reading address book: %w", err)
	}

	book, err := decodeBook(d.path, data)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("address book loaded", "path", d.path, "contacts", len(book.Contacts))
	d.cache.Set(book)
	return book, nil
}

func decodeBook(path string, data []byte) (*Book, error) {
	var book Book
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &book)
	case ".json":
		err = json.Unmarshal(data, &book)
	default:
		err = toml.Unmarshal(data, &book)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing address book %s: %w", filepath.Base(path), err)
	}
	return &book, nil
}

func encodeBook(path string, book *Book) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Marshal(book)
	case ".json":
		return json.MarshalIndent(book, "", "  ")
	default:
		return toml.Marshal(book)
	}
}

func (d *Directory) visible(scope Scope) ([]Contact, error) {
	book, err := d.load()
	if err != nil {
		return nil, err
	}
	out := make([]Contact, 0, len(book.Contacts))
	for _, c := range book.Contacts {
		if scope.allows(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Resolve finds contacts matching a spoken participant reference: exact full
// name first, then first name (narrowed by department), then partial name.
func (d *Directory) Resolve(ctx context.Context, name, department string, scope Scope) ([]Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	contacts, err := d.visible(scope)
	if err != nil {
		return nil, err
	}
	return match(contacts, name, department), nil
}

func match(contacts []Contact, name, department string) []Contact {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil
	}
	dept := strings.ToLower(strings.TrimSpace(department))

	var exact []Contact
	for _, c := range contacts {
		if strings.ToLower(c.Name) == needle {
			exact = append(exact, c)
		}
	}
	if len(exact) > 0 {
		return narrow(exact, dept)
	}

	var firstName []Contact
	for _, c := range contacts {
		fields := strings.Fields(strings.ToLower(c.Name))
		if len(fields) > 0 && fields[0] == needle {
			firstName = append(firstName, c)
		}
	}
	if len(firstName) > 0 {
		return narrow(firstName, dept)
	}

	var partial []Contact
	for _, c := range contacts {
		if strings.Contains(strings.ToLower(c.Name), needle) {
			partial = append(partial, c)
		}
	}
	return narrow(partial, dept)
}

// narrow keeps only the contacts in dept when at least one is there.
// A hint that matches nobody leaves the list alone so the user can still pick.
func narrow(contacts []Contact, dept string) []Contact {
	if dept == "" {
		return contacts
	}
	var filtered []Contact
	for _, c := range contacts {
		if strings.ToLower(c.Department) == dept {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) > 0 {
		return filtered
	}
	return contacts
}

// DepartmentMembers lists every visible contact in the department (case-insensitive).
func (d *Directory) DepartmentMembers(ctx context.Context, department string, scope Scope) ([]Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	contacts, err := d.visible(scope)
	if err != nil {
		return nil, err
	}
	dept := strings.ToLower(strings.TrimSpace(department))
	var members []Contact
	for _, c := range contacts {
		if strings.ToLower(c.Department) == dept {
			members = append(members, c)
		}
	}
	return members, nil
}

// Departments returns the sorted set of department names visible in scope.
func (d *Directory) Departments(scope Scope) ([]string, error) {
	contacts, err := d.visible(scope)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, c := range contacts {
		if c.Department != "" && !seen[c.Department] {
			seen[c.Department] = true
			out = append(out, c.Department)
		}
	}
	slices.Sort(out)
	return out, nil
}

// List returns all contacts visible in scope, in file order.
func (d *Directory) List(scope Scope) ([]Contact, error) {
	return d.visible(scope)
}

// Add appends a contact and rewrites the address book.
func (d *Directory) Add(c Contact) (Contact, error) {
	if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Email) == "" {
		return Contact{}, fmt.Errorf("contact needs a name and an email")
	}
	if c.ID == "" {
		c.ID = "c" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	book, err := d.load()
	if err != nil {
		return Contact{}, err
	}
	updated := *book
	updated.Contacts = append(slices.Clone(book.Contacts), c)
	if err := d.save(&updated); err != nil {
		return Contact{}, err
	}
	return c, nil
}

// Remove deletes a contact by id. It reports whether anything was removed.
func (d *Directory) Remove(id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	book, err := d.load()
	if err != nil {
		return false, err
	}
	updated := *book
	updated.Contacts = slices.DeleteFunc(slices.Clone(book.Contacts), func(c Contact) bool { return c.ID == id })
	if len(updated.Contacts) == len(book.Contacts) {
		return false, nil
	}
	return true, d.save(&updated)
}

func (d *Directory) save(book *Book) error {
	data, err := encodeBook(d.path, book)
	if err != nil {
		return fmt.Errorf("encoding address book: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0755); err != nil {
		return fmt.Errorf("creating address book directory: %w", err)
	}
	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing address book: %w", err)
	}
	if err := os.Rename(tmp, d.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing address book: %w", err)
	}
	d.cache.Set(book)
	return nil
}
