package services

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/BVStecnologia/Healt-Solution-sub001/db"
)

// ErrTemplateNotFound is returned when no active template exists for a name
// in either the requested or the default language.
var ErrTemplateNotFound = errors.New("template not found")

// TemplateService loads message templates and substitutes {name}
// placeholders into their bodies.
type TemplateService struct {
	PG              *sql.DB
	DefaultLanguage string
}

func NewTemplateService(pg *sql.DB, defaultLanguage string) *TemplateService {
	return &TemplateService{PG: pg, DefaultLanguage: defaultLanguage}
}

// Load returns the active template for (name, language), falling back to the
// default language when the requested one has no active template.
func (s *TemplateService) Load(name, language string) (*db.MessageTemplate, error) {
	tmpl, err := s.load(name, language)
	if err == nil {
		return tmpl, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if language == s.DefaultLanguage {
		return nil, ErrTemplateNotFound
	}

	tmpl, err = s.load(name, s.DefaultLanguage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTemplateNotFound
	}
	return tmpl, err
}

func (s *TemplateService) load(name, language string) (*db.MessageTemplate, error) {
	var tmpl db.MessageTemplate

	err := s.PG.QueryRow(`
		SELECT id, name, language, content, is_active
		FROM message_templates
		WHERE name = $1 AND language = $2 AND is_active = true
		LIMIT 1
	`, name, language).Scan(&tmpl.ID, &tmpl.Name, &tmpl.Language, &tmpl.Content, &tmpl.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to query template %s/%s: %w", name, language, err)
	}

	return &tmpl, nil
}

// Render substitutes named {placeholder} values into a template body.
// Unknown placeholders are left untouched.
func Render(content string, vars map[string]string) string {
	for key, value := range vars {
		content = strings.ReplaceAll(content, "{"+key+"}", value)
	}
	return content
}
