// Package content loads the club's public site content (events, gallery and
// team) from a YAML file.
package content

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

type Site struct {
	Name         string   `yaml:"name"`
	Tagline      string   `yaml:"tagline"`
	About        string   `yaml:"about"`
	ContactEmail string   `yaml:"contact_email"`
	Events       []Event  `yaml:"events"`
	Gallery      []Photo  `yaml:"gallery"`
	Team         []Member `yaml:"team"`
}

type Event struct {
	Title       string    `yaml:"title"`
	StartsAt    time.Time `yaml:"starts_at"`
	Location    string    `yaml:"location"`
	Description string    `yaml:"description"`
}

type Photo struct {
	Title   string `yaml:"title"`
	URL     string `yaml:"url"`
	Caption string `yaml:"caption"`
}

type Member struct {
	Name     string `yaml:"name"`
	Role     string `yaml:"role"`
	Bio      string `yaml:"bio"`
	PhotoURL string `yaml:"photo_url"`
}

// Default is served when no site file is configured.
func Default() Site {
	return Site{
		Name:    "The Clubhouse",
		Tagline: "A friendly place to meet, play and learn.",
		About:   "We are a volunteer-run club. Members can sign in to manage their profile.",
	}
}

// Load reads and validates the YAML file at path. An empty path yields Default.
func Load(path string) (Site, error) {
	if path == "" {
		return Default(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Site{}, fmt.Errorf("read site file: %w", err)
	}
	site, err := Parse(bytes.NewReader(raw))
	if err != nil {
		return Site{}, fmt.Errorf("site file %s: %w", path, err)
	}
	return site, nil
}

// Parse decodes site content, rejecting unknown keys so typos surface at boot.
func Parse(r io.Reader) (Site, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var site Site
	if err := dec.Decode(&site); err != nil && !errors.Is(err, io.EOF) {
		return Site{}, fmt.Errorf("decode: %w", err)
	}
	if err := site.validate(); err != nil {
		return Site{}, err
	}
	return site, nil
}

func (s Site) validate() error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	for i, e := range s.Events {
		if e.Title == "" {
			return fmt.Errorf("events[%d]: title is required", i)
		}
		if e.StartsAt.IsZero() {
			return fmt.Errorf("events[%d]: starts_at is required", i)
		}
	}
	for i, m := range s.Team {
		if m.Name == "" {
			return fmt.Errorf("team[%d]: name is required", i)
		}
	}
	return nil
}

// UpcomingEvents returns events starting at or after now, soonest first.
func (s Site) UpcomingEvents(now time.Time) []Event {
	var out []Event
	for _, e := range s.Events {
		if !e.StartsAt.Before(now) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b Event) int { return a.StartsAt.Compare(b.StartsAt) })
	return out
}

// PastEvents returns events that started before now, most recent first.
func (s Site) PastEvents(now time.Time) []Event {
	var out []Event
	for _, e := range s.Events {
		if e.StartsAt.Before(now) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b Event) int { return b.StartsAt.Compare(a.StartsAt) })
	return out
}
